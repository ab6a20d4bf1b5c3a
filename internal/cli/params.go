package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	paramCmd.AddCommand(paramGetCmd)
	paramCmd.AddCommand(paramSetCmd)
	rootCmd.AddCommand(paramCmd)
}

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Inspect and override tunable parameters",
}

var paramGetCmd = &cobra.Command{
	Use:   "get [NAME]",
	Short: "Show tunable parameters",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Set a tunable parameter (manual override)",
	Args:  cobra.ExactArgs(2),
	RunE:  runParamSet,
}

type paramView struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Value   any      `json:"value"`
	Default any      `json:"default"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Choices []string `json:"choices"`
}

func runParamGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Parameters map[string]paramView `json:"parameters"`
	}
	if err := c.get("/api/params", &resp); err != nil {
		return err
	}

	if len(args) == 1 {
		p, ok := resp.Parameters[args[0]]
		if !ok {
			return fmt.Errorf("unknown parameter %q", args[0])
		}
		fmt.Printf("%s = %v (%s, default %v)\n", p.Name, p.Value, p.Type, p.Default)
		return nil
	}

	names := make([]string, 0, len(resp.Parameters))
	for name := range resp.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tVALUE\tDEFAULT\tBOUNDS")
	for _, name := range names {
		p := resp.Parameters[name]
		bounds := fmt.Sprintf("[%v, %v]", p.Min, p.Max)
		if p.Type == "categorical" {
			bounds = fmt.Sprintf("%v", p.Choices)
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n", p.Name, p.Type, p.Value, p.Default, bounds)
	}
	return w.Flush()
}

func runParamSet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	name, raw := args[0], args[1]
	var value any = raw
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		value = n
	}

	body := map[string]any{"value": value}
	var resp json.RawMessage
	if err := c.do(http.MethodPut, "/api/params/"+name, body, &resp); err != nil {
		return err
	}
	fmt.Printf("%s set to %v\n", name, value)
	return nil
}
