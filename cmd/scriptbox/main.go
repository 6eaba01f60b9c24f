// Scriptbox — sandboxed execution engine for untrusted scripts.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "Scriptbox — sandboxed execution engine for untrusted scripts.",
	Long: `Scriptbox runs untrusted Lua scripts inside killable worker processes,
polices their time and memory budgets from a supervisor, and returns a
sanitized result envelope with text output and optional rendered media.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, mcpCmd, workerCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
