package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hookrelay/hookrelay/internal/store"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
	Long:  `Check delivery status and attempt history.`,
}

// listDeliveriesCmd represents the list deliveries command
var listDeliveriesCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries",
	Long: `List deliveries, optionally filtered by subscription or status.

Example:
  relayctl delivery list --subscription-id sub_123 --status retrying`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subID, _ := cmd.Flags().GetString("subscription-id")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		q := url.Values{}
		if subID != "" {
			q.Set("subscription_id", subID)
		}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))

		var resp struct {
			Deliveries []store.Delivery `json:"deliveries"`
		}
		if err := doRequest(http.MethodGet, "/v1/deliveries?"+q.Encode(), nil, &resp); err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Deliveries) == 0 {
			fmt.Println("No deliveries found")
			return nil
		}
		for _, d := range resp.Deliveries {
			fmt.Printf("%s  %-8s  %s  attempt %d/%d\n", d.ID, d.Status, d.EventType, d.AttemptCount, d.MaxAttempts)
		}
		return nil
	},
}

// getDeliveryCmd represents the get delivery command
var getDeliveryCmd = &cobra.Command{
	Use:   "get [delivery-id]",
	Short: "Get a delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var d store.Delivery
		if err := doRequest(http.MethodGet, "/v1/deliveries/"+args[0], nil, &d); err != nil {
			return fmt.Errorf("failed to get delivery: %w", err)
		}

		if outputJSON {
			printOutput(d)
			return nil
		}
		fmt.Printf("Delivery: %s\n", d.ID)
		fmt.Printf("  Subscription ID: %s\n", d.SubscriptionID)
		fmt.Printf("  Event Type: %s\n", d.EventType)
		fmt.Printf("  Status: %s\n", d.Status)
		fmt.Printf("  Attempts: %d/%d\n", d.AttemptCount, d.MaxAttempts)
		if d.HTTPStatus > 0 {
			fmt.Printf("  HTTP Status: %d\n", d.HTTPStatus)
		}
		if d.Error != "" {
			fmt.Printf("  Error: %s\n", d.Error)
		}
		if d.NextRetryAt != nil {
			fmt.Printf("  Next Retry: %s\n", formatTime(d.NextRetryAt))
		}
		fmt.Printf("  Created: %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
		if d.DeliveredAt != nil {
			fmt.Printf("  Delivered: %s\n", formatTime(d.DeliveredAt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	deliveryCmd.AddCommand(getDeliveryCmd)

	listDeliveriesCmd.Flags().String("subscription-id", "", "filter by subscription ID")
	listDeliveriesCmd.Flags().String("status", "", "filter by status (pending, success, retrying, failed)")
	listDeliveriesCmd.Flags().Int("limit", 50, "maximum number of results")
	listDeliveriesCmd.Flags().Int("offset", 0, "result offset")
}
