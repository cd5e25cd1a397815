package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/sandboxd/pkg/client"
	"github.com/opensandbox/sandboxd/pkg/types"
)

var sandboxCmd = &cobra.Command{
	Use:     "sandbox",
	Aliases: []string{"sb"},
	Short:   "Manage sandboxes",
	Long:    `Create, list, inspect, pause, resume, and destroy sandboxes.`,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		template, _ := cmd.Flags().GetString("template")
		vcpu, _ := cmd.Flags().GetInt("vcpu")
		memory, _ := cmd.Flags().GetInt("memory")
		workspaceID, _ := cmd.Flags().GetString("workspace-id")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		sb, err := c.CreateSandbox(ctx, types.SandboxConfig{
			Template:    template,
			VCPUCount:   vcpu,
			MemoryMB:    memory,
			WorkspaceID: workspaceID,
		})
		if err != nil {
			return fmt.Errorf("create sandbox: %w", err)
		}

		fmt.Printf("sandbox created: %s\n", sb.ID)
		fmt.Printf("  template:  %s\n", sb.Template)
		fmt.Printf("  status:    %s\n", sb.Status)
		fmt.Printf("  memory_mb: %d\n", sb.MemoryMB)
		fmt.Printf("  vcpu:      %d\n", sb.VCPUCount)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sbs, err := c.ListSandboxes(ctx)
		if err != nil {
			return fmt.Errorf("list sandboxes: %w", err)
		}
		if len(sbs) == 0 {
			fmt.Println("no sandboxes found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTEMPLATE\tSTATUS\tMEMORY_MB\tVCPU\tCREATED")
		for _, sb := range sbs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				sb.ID, sb.Template, sb.Status, sb.MemoryMB, sb.VCPUCount, sb.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <sandbox-id>",
	Short: "Get sandbox details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sb, err := c.GetSandbox(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get sandbox: %w", err)
		}

		data, _ := json.MarshalIndent(sb, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:     "destroy <sandbox-id>",
	Aliases: []string{"rm", "kill"},
	Short:   "Destroy a sandbox",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DestroySandbox(ctx, args[0]); err != nil {
			return fmt.Errorf("destroy sandbox: %w", err)
		}
		fmt.Printf("sandbox %s destroyed\n", args[0])
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <sandbox-id>",
	Short: "Pause a sandbox, snapshotting it to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := c.PauseSandbox(ctx, args[0]); err != nil {
			return fmt.Errorf("pause sandbox: %w", err)
		}
		fmt.Printf("sandbox %s paused\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <sandbox-id>",
	Short: "Resume a paused sandbox from its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		sb, err := c.ResumeSandbox(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resume sandbox: %w", err)
		}
		fmt.Printf("sandbox %s resumed (status=%s)\n", sb.ID, sb.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sandboxCmd)

	sandboxCmd.AddCommand(createCmd)
	sandboxCmd.AddCommand(listCmd)
	sandboxCmd.AddCommand(getCmd)
	sandboxCmd.AddCommand(destroyCmd)
	sandboxCmd.AddCommand(pauseCmd)
	sandboxCmd.AddCommand(resumeCmd)

	createCmd.Flags().String("template", "default", "Sandbox template")
	createCmd.Flags().Int("vcpu", 0, "Number of vCPUs (0 uses the daemon default)")
	createCmd.Flags().Int("memory", 0, "Memory in MB (0 uses the daemon default)")
	createCmd.Flags().String("workspace-id", "", "Workspace id to associate with the sandbox")
}
