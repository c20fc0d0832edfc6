package main

import (
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase all local data (irreversible)",
	Long: `Wipe the local store, the sync queue, and settings.

This is irreversible and does not touch the remote backend. Intended for
account reset; export a snapshot first if the data matters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			confirmed := false
			err := huh.NewConfirm().
				Title("Erase ALL local data?").
				Description("Records, pending sync queue, and settings will be wiped. This cannot be undone.").
				Affirmative("Erase").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return nil
			}
		}

		logger := log.New(os.Stderr, "[reset] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.layer.ClearAll(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("Local store cleared.")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
