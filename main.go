package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "userchat",
	Short: "Chat assistant with a seeded user database",
	Long: `userchat runs a one-node chat workflow. Messages that mention the
database or users are answered from the local users table; everything
else goes to the configured chat-completion provider.

Examples:
  userchat serve
  userchat chat
  userchat users
  userchat query "SELECT email FROM users"`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(queryCmd)

	rootCmd.PersistentFlags().String("config", os.Getenv("USERCHAT_CONFIG"), "Path to the config file (default config.json)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before the config")
}
