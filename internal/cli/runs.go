package cli

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/harun/gapura/pkg/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent tool runs",
	Long:  `List the most recent tool runs for the configured profile, newest first.`,
	RunE:  runRuns,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent audit events",
	RunE:  runEvents,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of entries to show")
	eventsCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum number of entries to show")
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var runs []*store.ToolRun
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		runs, err = store.ListToolRuns(ctx, tx, a.cfg.Profile.ID, runsLimit)
		return err
	})
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*store.ToolRun{}
	}
	return printJSON(runs)
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var events []*store.Event
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		events, err = store.ListEvents(ctx, tx, a.cfg.Profile.ID, runsLimit)
		return err
	})
	if err != nil {
		return err
	}
	if events == nil {
		events = []*store.Event{}
	}
	return printJSON(events)
}
