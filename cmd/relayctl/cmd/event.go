package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Trigger webhook events",
	Long:  `Trigger webhook events and list the known event types.`,
}

// triggerCmd represents the trigger command
var triggerCmd = &cobra.Command{
	Use:   "trigger [tenant-id] [event-type] [payload-json]",
	Short: "Trigger a webhook event",
	Long: `Trigger a webhook event with a JSON payload. One delivery is created
per active subscription matching the event type.

Example:
  relayctl event trigger tn_123 payment.succeeded '{"invoice_id":"inv_789","amount":1200}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		body := map[string]any{
			"tenant_id":  args[0],
			"event_type": args[1],
			"payload":    payload,
		}

		var resp struct {
			DeliveryIDs []string `json:"delivery_ids"`
			FanoutCount int      `json:"fanout_count"`
		}
		if err := doRequest(http.MethodPost, "/v1/events", body, &resp); err != nil {
			return fmt.Errorf("failed to trigger event: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Triggered event: %s\n", args[1])
			fmt.Printf("  Fanout count: %d\n", resp.FanoutCount)
			for _, id := range resp.DeliveryIDs {
				fmt.Printf("  Delivery: %s\n", id)
			}
		}
		return nil
	},
}

// eventTypesCmd represents the types command
var eventTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the known event types",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			EventTypes []string `json:"event_types"`
		}
		if err := doRequest(http.MethodGet, "/v1/event-types", nil, &resp); err != nil {
			return fmt.Errorf("failed to list event types: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Println(strings.Join(resp.EventTypes, "\n"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(triggerCmd)
	eventCmd.AddCommand(eventTypesCmd)
}
