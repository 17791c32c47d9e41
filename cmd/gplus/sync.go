package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		online, _ := client.Connectivity().CheckConnection(ctx)
		if !online {
			return fmt.Errorf("server unreachable, try again later")
		}

		report, err := client.SyncNow(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("Replayed %d, failed %d, skipped %d.\n", report.Replayed, report.Failed, report.Skipped)
		return nil
	},
}
