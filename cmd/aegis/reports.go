package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aegisfield/aegis/internal/config"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/types"
)

var (
	reportsDBOverride string
	reportsJSONOutput bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect locally stored reports",
	Long:  "List reports and queue contents straight from the local databases, without running the server.",
}

func init() {
	reportsCmd.PersistentFlags().StringVar(&reportsDBOverride, "db", "",
		"Reports database path (overrides config and AEGIS_REPORTS_DB_PATH)")
	reportsCmd.PersistentFlags().BoolVar(&reportsJSONOutput, "json", false,
		"Output in JSON format")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsCountsCmd)
	reportsCmd.AddCommand(reportsQueueCmd)
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := resolveReportStore()
		if err != nil {
			return err
		}
		defer st.Close()

		reports, err := st.List(context.Background())
		if err != nil {
			return err
		}

		if reportsJSONOutput {
			return printJSON(cmd.OutOrStdout(), reports)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOCAL ID\tTYPE\tSEVERITY\tSTATUS\tATTEMPTS\tCREATED")
		for _, r := range reports {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.LocalID, r.IncidentType, r.Severity, r.SyncStatus,
				r.SyncAttempts, r.CreatedAtLocal.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var reportsCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show report counts by sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := resolveReportStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.CountByStatus(context.Background())
		if err != nil {
			return err
		}

		if reportsJSONOutput {
			return printJSON(cmd.OutOrStdout(), counts)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\nsynced:  %d\nfailed:  %d\n",
			counts.Pending, counts.Synced, counts.Failed)
		return nil
	},
}

var reportsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List outstanding queued sync requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigLenient()
		if err != nil {
			return err
		}

		q, err := queue.NewRequestQueue(cfg.Database.QueuePath)
		if err != nil {
			return err
		}
		defer q.Close()

		items, err := q.ListPending(context.Background())
		if err != nil {
			return err
		}

		if reportsJSONOutput {
			return printJSON(cmd.OutOrStdout(), types.QueueStats{Size: len(items), Items: items})
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREPORT\tRETRIES\tENQUEUED")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				item.ID, item.ReportLocalID, item.RetryCount,
				item.Timestamp.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

// resolveReportStore opens the report store from config with an optional
// --db override.
func resolveReportStore() (*store.ReportStore, error) {
	dbPath := reportsDBOverride
	if dbPath == "" {
		cfg, err := loadConfigLenient()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Database.ReportsPath
	}
	return store.NewReportStore(dbPath)
}

// loadConfigLenient loads configuration for read-only inspection commands.
// Remote endpoint validation does not apply here.
func loadConfigLenient() (*config.Config, error) {
	cfg, err := config.Load()
	if err == nil {
		return cfg, nil
	}
	// Inspection only needs database paths; fall back to defaults plus env.
	return config.LoadLenient(), nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
