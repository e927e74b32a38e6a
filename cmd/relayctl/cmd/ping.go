package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the HookRelay service",
	Long:  `Send a health check request to verify the HookRelay service is running and accessible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var status struct {
			OK bool `json:"ok"`
		}
		if err := doRequest(http.MethodGet, "/healthz", nil, &status); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		if !status.OK {
			return fmt.Errorf("service unhealthy")
		}
		fmt.Println("Pong! Service is running")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
