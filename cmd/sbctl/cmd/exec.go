package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandboxd/pkg/client"
	"github.com/opensandbox/sandboxd/pkg/types"
)

var execCmd = &cobra.Command{
	Use:   "exec <sandbox-id> <command>",
	Short: "Run a command inside a sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeoutSeconds, _ := cmd.Flags().GetInt("timeout")
		workingDir, _ := cmd.Flags().GetString("cwd")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds+10)*time.Second)
		defer cancel()

		result, err := c.Exec(ctx, args[0], types.ProcessConfig{
			Command:        args[1],
			TimeoutSeconds: timeoutSeconds,
			WorkingDir:     workingDir,
		})
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}

		fmt.Fprint(os.Stdout, result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		if !result.Success {
			return fmt.Errorf("command failed (exit %d): %s", result.ExitCode, result.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().Int("timeout", 30, "Command timeout in seconds")
	execCmd.Flags().String("cwd", "", "Working directory inside the sandbox")
}
