package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "sbctl",
	Short: "sbctl manages Firecracker sandboxes served by sandboxd",
	Long: `sbctl is a command-line client for sandboxd, the Firecracker microVM
sandbox daemon. It creates, inspects, and tears down sandboxes, and
runs commands and moves files inside them.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("SANDBOXD_URL", "http://localhost:8080"), "sandboxd API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOXD_API_KEY"), "sandboxd API key")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
