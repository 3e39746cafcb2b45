package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Queue a message for delivery",
	Long: `Queue a message through the running daemon. With --platform the message
goes to one platform; without it the message is broadcast to every platform
that has a default target configured.

Examples:
  herald send --platform github --target owner/repo#42 "build is green"
  herald send --platform matrix "deploy finished"
  herald send "release v2.1 is out"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		target, _ := cmd.Flags().GetString("target")
		body := strings.Join(args, " ")

		if target != "" && platform == "" {
			return fmt.Errorf("--target requires --platform")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/api/v1/messages", map[string]string{
			"platform_id": platform,
			"target":      target,
			"body":        body,
		})
		if err != nil {
			return err
		}

		var msgs []struct {
			ID         string `json:"id"`
			PlatformID string `json:"platform_id"`
			Target     string `json:"target"`
		}
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}

		if len(msgs) == 0 {
			printWarning("no platform has a default target, nothing queued")
			return nil
		}
		for _, m := range msgs {
			printSuccess("queued %s on %s (%s)", m.ID, m.PlatformID, m.Target)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String("platform", "", "platform id (github, matrix, relay); empty broadcasts")
	sendCmd.Flags().String("target", "", "destination, e.g. owner/repo#42 or !room:server (default: the platform's default_target)")
}
