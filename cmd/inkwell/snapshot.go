package main

import (
	"fmt"
	"log"
	"os"

	"github.com/inkwell-app/inkwell/internal/snapshot"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export all collections to a snapshot file",
	Long: `Serialize every authored collection into one portable snapshot document.

The sync queue is not exported; importing a snapshot re-queues its records
through the normal save path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[export] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		doc, err := a.layer.ExportSnapshot(cmd.Context())
		if err != nil {
			return err
		}

		data, err := snapshot.Marshal(doc)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0600); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}

		count := 0
		for _, recs := range doc.Collections {
			count += len(recs)
		}
		fmt.Printf("Exported %d records to %s\n", count, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a snapshot file into the local store",
	Long: `Re-apply every record from a snapshot through the normal save path, so the
imported data re-enters the sync queue and is re-uploaded.

Import is additive and overwriting by id; it never deletes records absent
from the snapshot. A snapshot with an unknown format version is rejected
outright.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[import] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		// #nosec G304 - path comes from the CLI argument
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}

		doc, err := snapshot.Unmarshal(data)
		if err != nil {
			return err
		}

		if err := a.layer.ImportSnapshot(cmd.Context(), doc); err != nil {
			return err
		}

		fmt.Printf("Imported %d records from %s\n", len(doc.Records()), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
