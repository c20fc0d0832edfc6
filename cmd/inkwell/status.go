package main

import (
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	labelStyle    = lipgloss.NewStyle().Bold(true)
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status and pending conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[status] ", log.LstdFlags)
		a, cleanup, err := openApp(logger)
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := a.layer.GetSyncStatus(cmd.Context())
		if err != nil {
			return err
		}

		online := offlineStyle.Render("offline")
		if status.IsOnline {
			online = onlineStyle.Render("online")
		}
		fmt.Printf("%s %s\n", labelStyle.Render("Connectivity:"), online)
		fmt.Printf("%s %v\n", labelStyle.Render("Drain in progress:"), status.InProgress)
		fmt.Printf("%s %d\n", labelStyle.Render("Queue size:"), status.QueueSize)
		if status.LastSync.IsZero() {
			fmt.Printf("%s never\n", labelStyle.Render("Last sync:"))
		} else {
			fmt.Printf("%s %s\n", labelStyle.Render("Last sync:"), status.LastSync.Local().Format("2006-01-02 15:04:05"))
		}

		conflicts, err := a.layer.ListConflicts(cmd.Context())
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			fmt.Println()
			fmt.Println(conflictStyle.Render(fmt.Sprintf("%d record(s) in conflict:", len(conflicts))))
			for _, rec := range conflicts {
				fmt.Printf("  %s/%s (version %d)\n", rec.Collection, rec.ID, rec.Meta.Version)
			}
			fmt.Println("\nRe-save a conflicted record to retry it, or remove it to discard.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
