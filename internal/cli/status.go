package cli

import (
	"fmt"

	"github.com/soyeahso/chatpulse/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, storage totals and open pending responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatpulse %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:   %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Mode:     %s\n", cfg.Environment)
			fmt.Fprintf(out, "Server:   port=%d bind=%s\n", cfg.Server.Port, cfg.Server.Bind)
			target := cfg.Storage.Path
			if cfg.Storage.Driver == "postgres" {
				target = "(dsn)"
			}
			fmt.Fprintf(out, "Storage:  driver=%s %s\n", cfg.Storage.Driver, target)
			fmt.Fprintf(out, "Pairing:  lock=%s preview=%d\n", cfg.Pairing.Lock, cfg.Pairing.ContentPreview)
			fmt.Fprintf(out, "Retry:    attempts=%d delay=%s\n", cfg.Retry.MaxAttempts, cfg.Retry.Delay)
			fmt.Fprintln(out)

			a, err := openApp(cmd.Context(), cfg, log)
			if err != nil {
				fmt.Fprintf(out, "Storage:  unavailable: %v\n", err)
				return nil
			}
			defer a.Close()

			ctx := cmd.Context()
			events, err := a.repos.Events.Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Events:   total=%d processed=%d unprocessed=%d failed=%d\n",
				events.Total, events.Processed, events.Unprocessed, events.Failed)

			contacts, err := a.repos.Contacts.Count(ctx)
			if err != nil {
				return err
			}
			conversations, err := a.repos.Conversations.Count(ctx)
			if err != nil {
				return err
			}
			messages, err := a.repos.Messages.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Entities: contacts=%d conversations=%d messages=%d\n", contacts, conversations, messages)

			open, err := a.repos.Pending.CountOpen(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pending:  %d awaiting reply\n", open)
			return nil
		},
	}

	return cmd
}
