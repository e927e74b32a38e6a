package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hookrelay/hookrelay/internal/store"
)

// subscriptionCmd represents the subscription command
var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage webhook subscriptions",
	Long:  `Create and manage webhook subscriptions that bind a subscriber URL to event types.`,
}

// createSubscriptionCmd represents the create subscription command
var createSubscriptionCmd = &cobra.Command{
	Use:   "create [tenant-id] [url] [event-types]",
	Short: "Create a new webhook subscription",
	Long: `Create a new webhook subscription. Event types are comma-separated.
The signing secret is printed exactly once; it cannot be read back later.

Example:
  relayctl subscription create tn_123 https://example.com/hook payment.succeeded,payment.failed`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"tenant_id":   args[0],
			"url":         args[1],
			"event_types": strings.Split(args[2], ","),
		}
		if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
			body["secret"] = secret
		}

		var resp struct {
			Subscription *store.Subscription `json:"subscription"`
			Secret       string              `json:"secret"`
		}
		if err := doRequest(http.MethodPost, "/v1/subscriptions", body, &resp); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Created subscription: %s\n", resp.Subscription.ID)
			fmt.Printf("  Tenant ID: %s\n", resp.Subscription.TenantID)
			fmt.Printf("  URL: %s\n", resp.Subscription.URL)
			fmt.Printf("  Event Types: %s\n", strings.Join(resp.Subscription.EventTypes, ", "))
			fmt.Printf("  Secret (save it now, shown only once): %s\n", resp.Secret)
		}
		return nil
	},
}

// listSubscriptionsCmd represents the list subscriptions command
var listSubscriptionsCmd = &cobra.Command{
	Use:   "list [tenant-id]",
	Short: "List subscriptions for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		var resp struct {
			Subscriptions []store.Subscription `json:"subscriptions"`
		}
		path := fmt.Sprintf("/v1/subscriptions?tenant_id=%s&limit=%d&offset=%d", args[0], limit, offset)
		if err := doRequest(http.MethodGet, path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Subscriptions) == 0 {
			fmt.Println("No subscriptions found")
			return nil
		}
		for _, sub := range resp.Subscriptions {
			state := "active"
			if !sub.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %s  %s  [%s]\n", sub.ID, state, sub.URL, strings.Join(sub.EventTypes, ","))
		}
		return nil
	},
}

// getSubscriptionCmd represents the get subscription command
var getSubscriptionCmd = &cobra.Command{
	Use:   "get [subscription-id]",
	Short: "Get a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sub store.Subscription
		if err := doRequest(http.MethodGet, "/v1/subscriptions/"+args[0], nil, &sub); err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}

		if outputJSON {
			printOutput(sub)
			return nil
		}
		fmt.Printf("Subscription: %s\n", sub.ID)
		fmt.Printf("  Tenant ID: %s\n", sub.TenantID)
		fmt.Printf("  URL: %s\n", sub.URL)
		fmt.Printf("  Event Types: %s\n", strings.Join(sub.EventTypes, ", "))
		fmt.Printf("  Active: %v\n", sub.Active)
		fmt.Printf("  Deliveries: %d total, %d ok, %d failed\n",
			sub.TotalDeliveries, sub.SuccessfulDeliveries, sub.FailedDeliveries)
		fmt.Printf("  Last delivery: %s\n", formatTime(sub.LastDeliveryAt))
		return nil
	},
}

// deactivateSubscriptionCmd represents the deactivate subscription command
var deactivateSubscriptionCmd = &cobra.Command{
	Use:   "deactivate [subscription-id]",
	Short: "Deactivate a subscription",
	Long: `Deactivate a subscription so no new deliveries are dispatched to it.
Already-dispatched attempts are not cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active := false
		var sub store.Subscription
		if err := doRequest(http.MethodPatch, "/v1/subscriptions/"+args[0], map[string]any{"active": &active}, &sub); err != nil {
			return fmt.Errorf("failed to deactivate subscription: %w", err)
		}

		if outputJSON {
			printOutput(sub)
		} else {
			fmt.Printf("Deactivated subscription: %s\n", sub.ID)
		}
		return nil
	},
}

// deleteSubscriptionCmd represents the delete subscription command
var deleteSubscriptionCmd = &cobra.Command{
	Use:   "delete [subscription-id]",
	Short: "Delete a subscription and its delivery history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doRequest(http.MethodDelete, "/v1/subscriptions/"+args[0], nil, nil); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		fmt.Printf("Deleted subscription: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subscriptionCmd)
	subscriptionCmd.AddCommand(createSubscriptionCmd)
	subscriptionCmd.AddCommand(listSubscriptionsCmd)
	subscriptionCmd.AddCommand(getSubscriptionCmd)
	subscriptionCmd.AddCommand(deactivateSubscriptionCmd)
	subscriptionCmd.AddCommand(deleteSubscriptionCmd)

	createSubscriptionCmd.Flags().String("secret", "", "signing secret (generated when omitted)")
	listSubscriptionsCmd.Flags().Int("limit", 50, "maximum number of results")
	listSubscriptionsCmd.Flags().Int("offset", 0, "result offset")
}
