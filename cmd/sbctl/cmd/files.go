package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandboxd/pkg/client"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Read and write files inside a sandbox",
}

var catCmd = &cobra.Command{
	Use:   "cat <sandbox-id> <path>",
	Short: "Print a file's contents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := c.ReadFile(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		content, _ := resp["content"].(string)
		if isB64, _ := resp["is_base64"].(bool); isB64 {
			raw, err := base64.StdEncoding.DecodeString(content)
			if err != nil {
				return fmt.Errorf("decode file content: %w", err)
			}
			content = string(raw)
		}
		fmt.Fprintln(os.Stdout, content)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <sandbox-id> <path> <content>",
	Short: "Write content to a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.WriteFile(ctx, args[0], args[1], args[2], false); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		fmt.Printf("wrote %s in sandbox %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(catCmd)
	filesCmd.AddCommand(putCmd)
}
