package supervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// Tokens breaks a result's token count down by kind.
type Tokens struct {
	Total  int64 `json:"total"`
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
}

// Result is the terminal record of one instance.
type Result struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          InstanceStatus `json:"status"`
	Tokens          Tokens         `json:"tokens"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	CostUSD         float64        `json:"cost_usd"`
	ToolCalls       int            `json:"tool_calls"`
	Error           string         `json:"error,omitempty"`
}

// Summary aggregates the whole run.
type Summary struct {
	Instances      []Result `json:"instances"`
	TotalTokens    Tokens   `json:"total_tokens"`
	TotalCostUSD   float64  `json:"total_cost_usd"`
	TotalToolCalls int      `json:"total_tool_calls"`
	Completed      int      `json:"completed"`
	Failed         int      `json:"failed"`
}

// summarize snapshots every instance into the aggregate summary.
func (s *Supervisor) summarize() *Summary {
	sum := &Summary{}
	for _, inst := range s.instances {
		status, usage, toolCalls, costUSD, start, end, err := inst.snapshot()

		res := Result{
			ID:     inst.ID,
			Name:   inst.Name,
			Status: status,
			Tokens: Tokens{
				Total:  usage.Total(),
				Input:  usage.InputTokens,
				Output: usage.OutputTokens,
				Cached: usage.CacheReadTokens + usage.CacheCreationTokens,
			},
			CostUSD:   costUSD,
			ToolCalls: toolCalls,
		}
		if !start.IsZero() && !end.IsZero() {
			res.ExecutionTimeMs = end.Sub(start).Milliseconds()
		}
		if err != nil {
			res.Error = err.Error()
		}

		sum.Instances = append(sum.Instances, res)
		sum.TotalTokens.Total += res.Tokens.Total
		sum.TotalTokens.Input += res.Tokens.Input
		sum.TotalTokens.Output += res.Tokens.Output
		sum.TotalTokens.Cached += res.Tokens.Cached
		sum.TotalCostUSD += res.CostUSD
		sum.TotalToolCalls += res.ToolCalls
		switch status {
		case StatusCompleted:
			sum.Completed++
		case StatusFailed:
			sum.Failed++
		}
	}
	return sum
}

// WriteTable renders the per-instance table plus totals.
func (s *Summary) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tTOKENS\tTOOL CALLS\tTIME\tCOST\tERROR")
	for _, res := range s.Instances {
		errMsg := res.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1fs\t$%.4f\t%s\n",
			res.Name, res.Status, res.Tokens.Total, res.ToolCalls,
			float64(res.ExecutionTimeMs)/1000, res.CostUSD, errMsg)
	}
	fmt.Fprintf(tw, "TOTAL\t%d/%d ok\t%d\t%d\t\t$%.4f\t\n",
		s.Completed, len(s.Instances), s.TotalTokens.Total, s.TotalToolCalls, s.TotalCostUSD)
	return tw.Flush()
}

// WriteJSON renders the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
