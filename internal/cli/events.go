package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/netra-systems/zen-sub010/internal/config"
	"github.com/netra-systems/zen-sub010/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the run event log",
	Long:  `Events reads the JSONL run event log and prints events, optionally filtered by type or attempt.`,
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().String("file", "", "events file (default: newest file in events.log_dir)")
	eventsCmd.Flags().String("session", "", "read the events file of a specific session")
	eventsCmd.Flags().String("type", "", "filter by event type")
	eventsCmd.Flags().Int("attempt", 0, "filter by attempt number")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	session, _ := cmd.Flags().GetString("session")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Events.LogDir == "" {
			return fmt.Errorf("no events file: pass --file or set events.log_dir")
		}
		if session != "" {
			path = filepath.Join(cfg.Events.LogDir, events.SessionFilename(session))
		} else if path, err = events.LatestFile(cfg.Events.LogDir); err != nil {
			return err
		}
	}

	evs, err := events.ReadEvents(path)
	if err != nil {
		return err
	}

	if typ, _ := cmd.Flags().GetString("type"); typ != "" {
		if !events.IsValidEventType(typ) {
			return fmt.Errorf("unknown event type %q", typ)
		}
		evs = events.FilterByType(evs, events.EventType(typ))
	}
	if attempt, _ := cmd.Flags().GetInt("attempt"); attempt > 0 {
		evs = events.FilterByAttempt(evs, attempt)
	}

	out := cmd.OutOrStdout()
	for _, ev := range evs {
		fmt.Fprintf(out, "%s %-20s %-12s %s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Instance, ev.Summary)
		if ev.Detail != "" {
			fmt.Fprintf(out, " (%s)", ev.Detail)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d event(s)\n", len(evs))
	return nil
}
