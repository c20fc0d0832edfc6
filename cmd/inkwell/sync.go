package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending sync queue against the backend",
	Long: `Force a sync drain, regardless of what the connectivity monitor last saw.

The drain processes queue items oldest first and stops at the first item
that fails recoverably, preserving ordering between dependent writes.
Terminal failures flag the record as a conflict; see 'inkwell status'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		before, err := a.queue.Size(cmd.Context())
		if err != nil {
			return err
		}

		if err := a.layer.ForceSyncAll(cmd.Context()); err != nil {
			return err
		}

		after, err := a.queue.Size(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Synced %d of %d pending items", before-after, before)
		if after > 0 {
			fmt.Printf(" (%d still pending)", after)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
