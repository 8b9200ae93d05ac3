package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/devloop/internal/config"
	"github.com/thruflo/devloop/internal/session"
	"github.com/thruflo/devloop/internal/sink"
)

// SessionReader abstracts session log storage for testability.
type SessionReader interface {
	List() ([]*session.Summary, error)
}

// statusStore is the session reader used by the status command.
// It can be overridden in tests.
var statusStore SessionReader

var (
	statusArchive bool
	statusLimit   int
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show past development sessions",
	Long: `Shows the development sessions recorded for this project.

Without arguments, lists sessions newest first with their exit reason and
counters. With a session id (or a unique prefix of one), shows the details
of that session including its iterations and errors.

Use --archive to read sessions from the SQLite archive configured under
sinks.archive.path instead of the session log directory. Archived sessions
are looked up by their full id.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusArchive, "archive", false, "read sessions from the configured archive")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum number of archived sessions to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	basePath := ""
	if statusStore == nil || statusArchive {
		dir, err := projectDir()
		if err != nil {
			return err
		}
		basePath = dir
	}

	if statusArchive {
		return archiveStatus(cmd.Context(), out, basePath, args)
	}

	store := statusStore
	if store == nil {
		cfg, err := config.LoadConfig(basePath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		store = session.NewStore(basePath, cfg.Session.LogDir)
	}

	summaries, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(args) == 0 {
		listSessions(out, rowsFromSummaries(summaries))
		return nil
	}

	s, err := findSession(summaries, args[0])
	if err != nil {
		return err
	}
	showSession(out, s)
	return nil
}

// archiveStatus lists archived sessions, or shows one by its full id.
func archiveStatus(ctx context.Context, out io.Writer, basePath string, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(basePath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Sinks.Archive.Path == "" {
		return fmt.Errorf("no archive configured (set sinks.archive.path)")
	}

	archive, err := sink.OpenArchive(resolvePath(basePath, cfg.Sinks.Archive.Path))
	if err != nil {
		return err
	}
	defer archive.Close()

	if len(args) == 1 {
		s, err := archive.Summary(ctx, args[0])
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session not found: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to load archived session: %w", err)
		}
		showSession(out, s)
		return nil
	}

	sessions, err := archive.Recent(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to list archived sessions: %w", err)
	}

	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, sessionRow{
			ID:         s.ID,
			Ended:      s.EndedAt,
			Reason:     s.ExitReason,
			Iterations: s.Iterations,
			Successes:  s.Successes,
			Commits:    s.Commits,
		})
	}
	listSessions(out, rows)
	return nil
}

// sessionRow is one line of the session list.
type sessionRow struct {
	ID         string
	Ended      time.Time
	Reason     string
	Iterations int
	Successes  int
	Commits    int
}

func rowsFromSummaries(summaries []*session.Summary) []sessionRow {
	rows := make([]sessionRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, sessionRow{
			ID:         s.ID,
			Ended:      s.EndTime,
			Reason:     s.ExitReason,
			Iterations: s.Iterations,
			Successes:  s.Successes,
			Commits:    s.Commits,
		})
	}
	return rows
}

func listSessions(out io.Writer, rows []sessionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return
	}

	// Calculate column widths
	idWidth := len("SESSION")
	reasonWidth := len("REASON")
	for _, r := range rows {
		if n := len(shortID(r.ID)); n > idWidth {
			idWidth = n
		}
		if len(r.Reason) > reasonWidth {
			reasonWidth = len(r.Reason)
		}
	}
	endedWidth := len(formatTime(time.Time{}))

	fmt.Fprintf(out, "%-*s  %-*s  %-*s  %s\n", idWidth, "SESSION", endedWidth, "ENDED", reasonWidth, "REASON", "OK/ITER  COMMITS")
	fmt.Fprintf(out, "%s  %s  %s  %s\n",
		strings.Repeat("-", idWidth), strings.Repeat("-", endedWidth), strings.Repeat("-", reasonWidth), "-------  -------")

	for _, r := range rows {
		progress := fmt.Sprintf("%d/%d", r.Successes, r.Iterations)
		fmt.Fprintf(out, "%-*s  %-*s  %-*s  %-7s  %d\n",
			idWidth, shortID(r.ID), endedWidth, formatTime(r.Ended), reasonWidth, r.Reason, progress, r.Commits)
	}
}

// findSession returns the session whose id equals or starts with id.
func findSession(summaries []*session.Summary, id string) (*session.Summary, error) {
	var match *session.Summary
	for _, s := range summaries {
		if s.ID == id {
			return s, nil
		}
		if strings.HasPrefix(s.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("session id %q is ambiguous", id)
			}
			match = s
		}
	}
	if match == nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return match, nil
}

func showSession(out io.Writer, s *session.Summary) {
	fmt.Fprintln(out, "Session Details")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)

	printField(out, "Session", s.ID)
	printField(out, "Started", formatTime(s.StartTime))
	printField(out, "Ended", formatTime(s.EndTime))
	printField(out, "Duration", formatDuration(s.EndTime.Sub(s.StartTime)))
	printField(out, "Exit Reason", s.ExitReason)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress")
	fmt.Fprintln(out, "--------")
	printField(out, "Iterations", fmt.Sprintf("%d of %d", s.Iterations, s.Config.MaxIterations))
	printField(out, "Successful", fmt.Sprintf("%d", s.Successes))
	printField(out, "Failed", fmt.Sprintf("%d", s.Failures))
	printField(out, "Errors", fmt.Sprintf("%d", s.Errors))
	printField(out, "Commits", fmt.Sprintf("%d", s.Commits))
	if len(s.BackupBranches) > 0 {
		printField(out, "Backups", strings.Join(s.BackupBranches, ", "))
	}

	if len(s.IterationLog) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Iterations")
		fmt.Fprintln(out, "----------")
		for _, rec := range s.IterationLog {
			line := fmt.Sprintf("  %3d  %-7s  %s", rec.Iteration, rec.Status, rec.Suggestion.Feature)
			if rec.Committed {
				line += " (committed)"
			}
			fmt.Fprintln(out, line)
		}
	}

	if len(s.ErrorLog) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Errors")
		fmt.Fprintln(out, "------")
		for _, e := range s.ErrorLog {
			fmt.Fprintf(out, "  %3d  %-12s  %s\n", e.Iteration, e.Phase, firstLine(e.Message))
		}
	}
}

func printField(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %-14s %s\n", label+":", value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
