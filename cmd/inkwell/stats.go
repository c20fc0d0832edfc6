package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/inkwell-app/inkwell/internal/record"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		logger := log.New(os.Stderr, "[stats] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := a.layer.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		total := 0
		for _, c := range record.Collections() {
			count := stats.CountsPerCollection[c]
			total += count
			fmt.Printf("%-10s %d\n", c, count)
		}
		fmt.Printf("%-10s %d\n", "total", total)
		fmt.Printf("%-10s %d bytes\n", "payloads", stats.TotalBytes)
		fmt.Printf("%-10s %d pending\n", "queue", stats.QueueSize)
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}
