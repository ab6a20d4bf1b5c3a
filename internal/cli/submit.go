package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	submitCmd.Flags().IntVar(&submitPriority, "priority", 5, "Task priority (lower = more urgent)")
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "Opaque JSON payload")
	rootCmd.AddCommand(submitCmd)
}

var (
	submitPriority int
	submitPayload  string
)

var submitCmd = &cobra.Command{
	Use:   "submit TYPE",
	Short: "Submit a task to the coordinator",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	req := map[string]any{
		"type":     args[0],
		"priority": submitPriority,
	}
	if submitPayload != "" {
		if !json.Valid([]byte(submitPayload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		req["payload"] = json.RawMessage(submitPayload)
	}

	var resp struct {
		TaskID         string `json:"task_id"`
		AssignedWorker string `json:"assigned_worker"`
		Queued         bool   `json:"queued"`
	}
	if err := c.do(http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return err
	}

	if resp.Queued {
		fmt.Printf("Task %s queued\n", resp.TaskID)
	} else {
		fmt.Printf("Task %s dispatched to %s\n", resp.TaskID, resp.AssignedWorker)
	}
	return nil
}
