package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hookrelay/hookrelay/internal/store"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show delivery and dead-letter aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats store.DeliveryStats
		if err := doRequest(http.MethodGet, "/v1/stats", nil, &stats); err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		if outputJSON {
			printOutput(stats)
			return nil
		}
		fmt.Println("Deliveries by status:")
		for status, n := range stats.ByStatus {
			fmt.Printf("  %-10s %d\n", status, n)
		}
		fmt.Printf("Failed in last 24h: %d\n", stats.FailedLast24h)
		fmt.Println("Dead letters by status:")
		for status, n := range stats.DeadByStatus {
			fmt.Printf("  %-10s %d\n", status, n)
		}
		fmt.Printf("Dead-lettered in last 24h: %d\n", stats.DeadLast24h)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
