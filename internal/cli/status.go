package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator statistics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Scheduler struct {
			QueueDepth      int     `json:"queue_depth"`
			InFlight        int64   `json:"in_flight"`
			Concurrency     int     `json:"concurrency"`
			RatePerSec      float64 `json:"rate_per_sec"`
			TotalScheduled  int64   `json:"total_scheduled"`
			TotalCompleted  int64   `json:"total_completed"`
			TotalFailed     int64   `json:"total_failed"`
			TotalRequeues   int64   `json:"total_requeues"`
		} `json:"scheduler"`
		Workers   int     `json:"workers"`
		BestScore float64 `json:"best_score"`
		Strategy  string  `json:"strategy"`
		Uptime    string  `json:"uptime"`
	}
	if err := c.get("/api/stats", &resp); err != nil {
		return err
	}

	fmt.Printf("Workers:      %d\n", resp.Workers)
	fmt.Printf("Queue depth:  %d\n", resp.Scheduler.QueueDepth)
	fmt.Printf("In flight:    %d\n", resp.Scheduler.InFlight)
	fmt.Printf("Concurrency:  %d\n", resp.Scheduler.Concurrency)
	fmt.Printf("Rate limit:   %.1f/s\n", resp.Scheduler.RatePerSec)
	fmt.Printf("Scheduled:    %d (completed %d, failed %d, requeues %d)\n",
		resp.Scheduler.TotalScheduled, resp.Scheduler.TotalCompleted,
		resp.Scheduler.TotalFailed, resp.Scheduler.TotalRequeues)
	fmt.Printf("Tuning:       strategy=%s best_score=%.4f\n", resp.Strategy, resp.BestScore)
	fmt.Printf("Uptime:       %s\n", resp.Uptime)
	return nil
}
