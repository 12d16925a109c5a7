package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/stats"
	"github.com/spf13/cobra"
)

// statsReport is the JSON form of a stats report.
type statsReport struct {
	Since          *time.Time           `json:"since,omitempty"`
	Until          *time.Time           `json:"until,omitempty"`
	ByOrigin       map[model.Origin]int `json:"byOrigin"`
	Fields         []stats.FieldStat    `json:"fields"`
	TopTemplates   []stats.TemplateStat `json:"topTemplates"`
	TotalTemplates int                  `json:"totalTemplates"`
	ReadyTemplates int                  `json:"readyTemplates"`
	Attempts       int                  `json:"attempts"`
	Successes      int                  `json:"successes"`
	Fallbacks      int                  `json:"fallbacks"`
	NoDraft        int                  `json:"noDraft"`
	Efficiency     float64              `json:"efficiency"`
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize learned templates and match results",
		Long: `Show how many messages each stage of the cascade resolved, how well the
learned templates cover each field, and which templates are used most.

--since and --until take a date (2006-01-02) or an age such as 30d or 12h.`,
		Args: cobra.NoArgs,
		RunE: runStats,
	}
	cmd.Flags().String("since", "", "only count attempts at or after this date or age")
	cmd.Flags().String("until", "", "only count attempts before this date or age")
	cmd.Flags().Int("top", stats.DefaultTopTemplates, "number of templates to rank")
	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	now := time.Now()
	sinceFlag, _ := cmd.Flags().GetString("since")
	untilFlag, _ := cmd.Flags().GetString("until")
	top, _ := cmd.Flags().GetInt("top")

	since, err := parseWindowBound(sinceFlag, now)
	if err != nil {
		return common.NewUserError("Invalid --since value", err)
	}
	until, err := parseWindowBound(untilFlag, now)
	if err != nil {
		return common.NewUserError("Invalid --until value", err)
	}
	if !since.IsZero() && !until.IsZero() && !since.Before(until) {
		return common.NewUserError("--since must be before --until",
			fmt.Errorf("%w: since %s, until %s", common.ErrInvalidConfig, sinceFlag, untilFlag))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(cmd.Context()) }()

	agg := stats.New(a.store, a.db, a.opts.MinConfidenceThreshold)
	agg.SetTop(top)
	report, err := agg.Report(cmd.Context(), since, until)
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), newStatsReport(report))
	}
	return printStats(cmd.OutOrStdout(), report)
}

// parseWindowBound reads a date or an age relative to now. An empty value is
// an open bound.
func parseWindowBound(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("%w: %q is not a number of days", common.ErrInvalidConfig, value)
		}
		return now.AddDate(0, 0, -n), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("%w: %q is neither a date nor an age", common.ErrInvalidConfig, value)
	}
	return now.Add(-d), nil
}

func newStatsReport(r *stats.Report) statsReport {
	out := statsReport{
		ByOrigin:       r.ByOrigin,
		Fields:         r.Fields,
		TopTemplates:   r.TopTemplates,
		TotalTemplates: r.TotalTemplates,
		ReadyTemplates: r.ReadyTemplates,
		Attempts:       r.Attempts,
		Successes:      r.Successes,
		Fallbacks:      r.Fallbacks,
		NoDraft:        r.NoDraft,
		Efficiency:     r.Efficiency(),
	}
	if !r.Since.IsZero() {
		out.Since = &r.Since
	}
	if !r.Until.IsZero() {
		out.Until = &r.Until
	}
	return out
}

func printStats(w io.Writer, r *stats.Report) error {
	if _, err := fmt.Fprintln(w, cli.FormatTitle(cli.ChartIcon+" Learning statistics")); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Templates\t%d (%d ready)\n", r.TotalTemplates, r.ReadyTemplates)
	fmt.Fprintf(tw, "Attempts\t%d\n", r.Attempts)
	fmt.Fprintf(tw, "Matched\t%d\n", r.Successes)
	fmt.Fprintf(tw, "Fallbacks\t%d\n", r.Fallbacks)
	fmt.Fprintf(tw, "No transaction\t%d\n", r.NoDraft)
	fmt.Fprintf(tw, "Efficiency\t%.1f%%\n", r.Efficiency()*100)
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Attempts > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ORIGIN\tMESSAGES")
		for _, o := range model.Origins {
			fmt.Fprintf(tw, "%s\t%d\n", o, r.ByOrigin[o])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Fields) > 0 {
		fmt.Fprintln(w)
		fields := append([]stats.FieldStat(nil), r.Fields...)
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Coverage > fields[j].Coverage })
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tCOVERAGE\tAVG TOKENS")
		for _, f := range fields {
			fmt.Fprintf(tw, "%s\t%.0f%%\t%.1f\n", f.Field, f.Coverage, f.AverageTokens)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.TopTemplates) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TEMPLATE\tVENDOR\tHITS\tCONFIRMATIONS\tCONFIDENCE")
		for _, t := range r.TopTemplates {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\n", t.ID, orDash(t.Vendor), t.Hits, t.Confirmations, t.Confidence)
		}
		return tw.Flush()
	}
	return nil
}
