package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show platform and queue status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/v1/status")
		if err != nil {
			return err
		}

		var platforms []struct {
			PlatformID   string `json:"platform_id"`
			Running      bool   `json:"running"`
			Queued       int    `json:"queued"`
			MinInterval  string `json:"min_interval"`
			PollInterval string `json:"poll_interval"`
		}
		if err := decodeJSON(resp, &platforms); err != nil {
			return err
		}

		if len(platforms) == 0 {
			printWarning("no platforms registered, enable one in herald.yaml")
			return nil
		}

		for _, p := range platforms {
			state := colorize(colorGreen, "running")
			if !p.Running {
				state = colorize(colorRed, "stopped")
			}
			fmt.Printf("%s  %s\n", colorize(colorBold, p.PlatformID), state)
			printStatus("queued", "%d", p.Queued)
			printStatus("min interval", "%s", p.MinInterval)
			printStatus("poll interval", "%s", p.PollInterval)
		}

		resp, err = client.get("/api/v1/messages?status=failed")
		if err != nil {
			return err
		}
		var failed []struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &failed); err != nil {
			return err
		}
		if len(failed) > 0 {
			printWarning("%d failed message(s) in the journal", len(failed))
		}

		return nil
	},
}
