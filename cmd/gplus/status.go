package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queued work",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		online, _ := client.Connectivity().CheckConnection(ctx)
		if online {
			fmt.Println("Connectivity: online")
		} else {
			fmt.Println("Connectivity: offline")
			min, sec := client.Connectivity().TimeSinceOnline()
			fmt.Printf("Last online:  %dm%02ds ago\n", min, sec)
		}

		depth, err := client.QueueDepth()
		if err != nil {
			return fmt.Errorf("cannot read queue: %w", err)
		}
		fmt.Printf("Queued:       %d pending change(s)\n", depth)

		if creds := client.Credentials().Tokens(); creds.AccessToken != "" {
			if client.Credentials().IsExpired(creds.AccessToken) {
				fmt.Println("Session:      expired (will refresh on next request)")
			} else {
				fmt.Println("Session:      active")
			}
		} else {
			fmt.Println("Session:      not logged in")
		}
		return nil
	},
}
