package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var (
		maxRetries int
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run audited webhook payloads that never finished processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.processor.Replay(cmd.Context(), maxRetries, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d event(s): %d processed, %d failed\n",
				sum.Attempted, sum.Processed, sum.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 5, "skip events that already failed this many times")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to replay")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
