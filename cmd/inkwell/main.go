// Command inkwell is the CLI for the Inkwell offline-first data layer: it
// inspects the local store, drives sync, imports and exports snapshots, and
// runs the long-lived sync daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Offline-first data layer for the Inkwell content app",
	Long: `Inkwell persists user-authored projects locally so the application works
without network connectivity, and reconciles local changes with the remote
backend once connectivity returns.

Local writes always succeed; sync state is visible via 'inkwell status' and
conflicts surface for manual reconciliation instead of losing data.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: built-in defaults + INKWELL_* env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
