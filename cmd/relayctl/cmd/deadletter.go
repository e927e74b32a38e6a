package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hookrelay/hookrelay/internal/store"
)

// deadletterCmd represents the deadletter command
var deadletterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Work the dead-letter queue",
	Long: `List, inspect, and resolve dead-lettered tasks.

resolve and ignore are terminal; retry marks intent and bumps the retry
counter but does not resubmit the original task.`,
}

// listDeadLettersCmd represents the list deadletters command
var listDeadLettersCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		q := url.Values{}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))

		var resp struct {
			DeadLetters []store.DeadLetter `json:"dead_letters"`
		}
		if err := doRequest(http.MethodGet, "/v1/deadletters?"+q.Encode(), nil, &resp); err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.DeadLetters) == 0 {
			fmt.Println("No dead-letter entries found")
			return nil
		}
		for _, dl := range resp.DeadLetters {
			fmt.Printf("%s  %-8s  %s  retries=%d  failed=%s\n",
				dl.ID, dl.Status, dl.TaskName, dl.RetryCount, dl.FailedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// getDeadLetterCmd represents the get deadletter command
var getDeadLetterCmd = &cobra.Command{
	Use:   "get [deadletter-id]",
	Short: "Get a dead-letter entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dl store.DeadLetter
		if err := doRequest(http.MethodGet, "/v1/deadletters/"+args[0], nil, &dl); err != nil {
			return fmt.Errorf("failed to get dead letter: %w", err)
		}

		if outputJSON {
			printOutput(dl)
			return nil
		}
		fmt.Printf("Dead letter: %s\n", dl.ID)
		fmt.Printf("  Task: %s (%s)\n", dl.TaskName, dl.TaskID)
		fmt.Printf("  Status: %s\n", dl.Status)
		fmt.Printf("  Retries: %d\n", dl.RetryCount)
		fmt.Printf("  Error: %s\n", dl.Error)
		fmt.Printf("  Failed: %s\n", dl.FailedAt.Format("2006-01-02 15:04:05"))
		if dl.ResolutionNotes != "" {
			fmt.Printf("  Notes: %s\n", dl.ResolutionNotes)
		}
		if dl.ResolvedBy != "" {
			fmt.Printf("  Resolved by: %s at %s\n", dl.ResolvedBy, formatTime(dl.ResolvedAt))
		}
		return nil
	},
}

// deadLetterAction posts one operator action and prints the updated record.
func deadLetterAction(id, action, notes, resolvedBy string) error {
	body := map[string]string{}
	if notes != "" {
		body["notes"] = notes
	}
	if resolvedBy != "" {
		body["resolved_by"] = resolvedBy
	}

	var dl store.DeadLetter
	if err := doRequest(http.MethodPost, "/v1/deadletters/"+id+"/"+action, body, &dl); err != nil {
		return fmt.Errorf("failed to %s dead letter: %w", action, err)
	}

	if outputJSON {
		printOutput(dl)
	} else {
		fmt.Printf("Dead letter %s: %s -> %s\n", dl.ID, action, dl.Status)
	}
	return nil
}

// resolveDeadLetterCmd represents the resolve deadletter command
var resolveDeadLetterCmd = &cobra.Command{
	Use:   "resolve [deadletter-id]",
	Short: "Mark a dead-letter entry resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		by, _ := cmd.Flags().GetString("by")
		return deadLetterAction(args[0], "resolve", notes, by)
	},
}

// retryDeadLetterCmd represents the retry deadletter command
var retryDeadLetterCmd = &cobra.Command{
	Use:   "retry [deadletter-id]",
	Short: "Mark a dead-letter entry for retry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		return deadLetterAction(args[0], "retry", "", by)
	},
}

// ignoreDeadLetterCmd represents the ignore deadletter command
var ignoreDeadLetterCmd = &cobra.Command{
	Use:   "ignore [deadletter-id]",
	Short: "Mark a dead-letter entry ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		by, _ := cmd.Flags().GetString("by")
		return deadLetterAction(args[0], "ignore", notes, by)
	},
}

func init() {
	rootCmd.AddCommand(deadletterCmd)
	deadletterCmd.AddCommand(listDeadLettersCmd)
	deadletterCmd.AddCommand(getDeadLetterCmd)
	deadletterCmd.AddCommand(resolveDeadLetterCmd)
	deadletterCmd.AddCommand(retryDeadLetterCmd)
	deadletterCmd.AddCommand(ignoreDeadLetterCmd)

	listDeadLettersCmd.Flags().String("status", "", "filter by status (failed, retried, resolved, ignored)")
	listDeadLettersCmd.Flags().Int("limit", 50, "maximum number of results")
	listDeadLettersCmd.Flags().Int("offset", 0, "result offset")

	resolveDeadLetterCmd.Flags().String("notes", "", "resolution notes")
	resolveDeadLetterCmd.Flags().String("by", "", "operator id")
	retryDeadLetterCmd.Flags().String("by", "", "operator id")
	ignoreDeadLetterCmd.Flags().String("notes", "", "resolution notes")
	ignoreDeadLetterCmd.Flags().String("by", "", "operator id")
}
