package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/daytrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from the SQLite database.

Subcommands:
  trade    - Get details of a specific trade by ID
  today    - List trades closed today
  day      - List trades closed on a specific day
  sessions - List recorded trading sessions

Examples:
  trader journal trade <trade-id>
  trader journal today
  trader journal day 2026-10-19`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded trading sessions",
	Args:  cobra.NoArgs,
	RunE:  runJournalSessions,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalSessionsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default: journal.db_path from config)")
}

// openJournal opens the database named by --db, falling back to the config.
func openJournal() (*journal.SQLiteJournal, *time.Location, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, nil, fmt.Errorf("no journal database: pass --db or set journal.db_path")
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return j, loc, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, _, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	j, loc, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	return listDay(cmd, j, loc, time.Now().In(loc).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	j, loc, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	return listDay(cmd, j, loc, args[0])
}

func listDay(cmd *cobra.Command, j *journal.SQLiteJournal, loc *time.Location, day string) error {
	start, end, err := dayBounds(loc, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no trades closed on %s\n", day)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func runJournalSessions(cmd *cobra.Command, args []string) error {
	j, loc, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	sessions, err := j.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, st := range sessions {
		end := "-"
		if !st.EndTime.IsZero() {
			end = st.EndTime.In(loc).Format("15:04:05")
		}
		fmt.Fprintf(out, "%s  start=%s end=%s trades=%d errors=%d pnl=%.2f\n",
			st.SessionID, st.StartTime.In(loc).Format("2006-01-02 15:04:05"), end, st.Trades, st.Errors, st.PnL)
	}
	return nil
}

// dayBounds returns [start, end) of day in loc.
func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
