package cli

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	workersCmd.AddCommand(workersResetCmd)
	rootCmd.AddCommand(workersCmd)
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List workers with status and health scores",
	RunE:  runWorkers,
}

var workersResetCmd = &cobra.Command{
	Use:   "reset WORKER_ID",
	Short: "Reset a worker (clears DEGRADED, closes its breaker)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersReset,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Workers []struct {
			ID             string  `json:"id"`
			Name           string  `json:"name"`
			Status         string  `json:"status"`
			TasksCompleted int64   `json:"tasks_completed"`
			TasksFailed    int64   `json:"tasks_failed"`
			HealthScore    float64 `json:"health_score"`
		} `json:"workers"`
	}
	if err := c.get("/api/workers", &resp); err != nil {
		return err
	}

	if len(resp.Workers) == 0 {
		fmt.Println("No workers registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCOMPLETED\tFAILED\tHEALTH")
	for _, wk := range resp.Workers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f\n",
			wk.ID, wk.Name, wk.Status, wk.TasksCompleted, wk.TasksFailed, wk.HealthScore)
	}
	return w.Flush()
}

func runWorkersReset(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.do(http.MethodPost, "/api/workers/"+args[0]+"/reset", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Worker %s reset\n", args[0])
	return nil
}
