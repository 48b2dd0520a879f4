package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/chatpulse/internal/stats"
	"github.com/spf13/cobra"
)

type statsFlags struct {
	days   int
	limit  int
	asJSON bool
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report response-time statistics",
	}

	cmd.AddCommand(newStatsOverallCmd())
	cmd.AddCommand(newStatsContactCmd())
	cmd.AddCommand(newStatsRankingCmd())
	cmd.AddCommand(newStatsPendingCmd())
	return cmd
}

// withAggregator loads config, opens the pipeline and runs fn against its
// aggregator.
func withAggregator(cmd *cobra.Command, fn func(ctx context.Context, agg *stats.Aggregator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a.aggregator)
}

func newStatsOverallCmd() *cobra.Command {
	var f statsFlags
	cmd := &cobra.Command{
		Use:   "overall",
		Short: "Summary over every contact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAggregator(cmd, func(ctx context.Context, agg *stats.Aggregator) error {
				s, err := agg.Overall(ctx, f.days)
				if err != nil {
					return err
				}
				if f.asJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				printSummary(cmd.OutOrStdout(), "all contacts", s)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func newStatsContactCmd() *cobra.Command {
	var f statsFlags
	cmd := &cobra.Command{
		Use:   "contact <phone>",
		Short: "Summary for one contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAggregator(cmd, func(ctx context.Context, agg *stats.Aggregator) error {
				s, err := agg.PerContact(ctx, args[0], f.days)
				if err != nil {
					return err
				}
				if f.asJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				printSummary(cmd.OutOrStdout(), args[0], s)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func newStatsRankingCmd() *cobra.Command {
	var f statsFlags
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Contacts ordered by slowest average response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAggregator(cmd, func(ctx context.Context, agg *stats.Aggregator) error {
				ranking, err := agg.Ranking(ctx, f.limit, f.days)
				if err != nil {
					return err
				}
				if f.asJSON {
					return writeJSON(cmd.OutOrStdout(), ranking)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tPHONE\tNAME\tRESPONSES\tAVG MIN")
				for i, e := range ranking {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", i+1, e.ContactPhone, e.ContactName, e.Count, e.AverageMinutes)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&f.days, "days", 0, "lookback window in days (default from config)")
	cmd.Flags().IntVar(&f.limit, "limit", stats.DefaultRankingLimit, "number of contacts")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func newStatsPendingCmd() *cobra.Command {
	var f statsFlags
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Customer messages still waiting for a reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAggregator(cmd, func(ctx context.Context, agg *stats.Aggregator) error {
				items, err := agg.PendingNow(ctx, f.limit)
				if err != nil {
					return err
				}
				if f.asJSON {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PHONE\tNAME\tSINCE\tWAITING MIN\tFLAG")
				for _, it := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						it.ContactPhone, it.ContactName,
						it.CustomerMessageTime.Format(time.RFC3339),
						it.WaitingMinutes, waitingFlag(it))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&f.limit, "limit", stats.DefaultPendingLimit, "number of entries")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func waitingFlag(it stats.PendingItem) string {
	switch {
	case it.IsCritical:
		return "critical"
	case it.IsUrgent:
		return "urgent"
	}
	return ""
}

func printSummary(w io.Writer, scope string, s *stats.Summary) {
	fmt.Fprintf(w, "Responses for %s, last %d days (since %s)\n\n", scope, s.Days, s.Since.Format(time.RFC3339))
	if s.Count == 0 {
		fmt.Fprintln(w, "No answered messages in this window.")
		return
	}
	fmt.Fprintf(w, "Count:    %d\n", s.Count)
	fmt.Fprintf(w, "Average:  %d min\n", s.AverageMinutes)
	fmt.Fprintf(w, "Fastest:  %d min\n", s.MinMinutes)
	fmt.Fprintf(w, "Slowest:  %d min\n\n", s.MaxMinutes)

	d := s.Distribution
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "<= 2 min\t%d\n", d.UpTo2)
	fmt.Fprintf(tw, "2-5 min\t%d\n", d.From2To5)
	fmt.Fprintf(tw, "5-15 min\t%d\n", d.From5To15)
	fmt.Fprintf(tw, "15-60 min\t%d\n", d.From15To60)
	fmt.Fprintf(tw, "> 60 min\t%d\n", d.Over60)
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
