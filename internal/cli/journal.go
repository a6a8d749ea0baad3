package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/loudsound/internal/adapters/journal"
	service "github.com/okian/loudsound/internal/app"
	"github.com/okian/loudsound/internal/config"
	"github.com/okian/loudsound/internal/domain/types"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	After  int64 // only records with a larger sequence number
	Replay bool  // rebuild the state and print a summary
}

// JournalEntry is one printed journal record.
type JournalEntry struct {
	Seq        int64     `json:"seq"`
	Op         string    `json:"op"`
	SongID     string    `json:"song_id,omitempty"`
	AtMs       int64     `json:"at_ms"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ReplaySummary is the state rebuilt from a journal.
type ReplaySummary struct {
	Commands    int           `json:"commands"`
	Now         string        `json:"now"`
	Songs       []types.Song  `json:"songs"`
	Leaderboard []types.Entry `json:"leaderboard"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal <db>",
		Short: "Print a command journal",
		Long: `Print the commands stored in a loudsound SQLite journal, oldest first.

With --replay the commands are applied to a fresh engine, configured from
LOUDSOUND_* settings, and the resulting songs and leaderboard are printed.

Examples:
  loudsoundctl journal loudsound.db
  loudsoundctl journal loudsound.db --after 100
  loudsoundctl journal loudsound.db --replay --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return WrapExitError(ExitCommandError, "journal not found", err)
			}
			if opts.Replay {
				return replayJournal(cmd, opts, args[0])
			}
			return printJournal(cmd, opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only print records after this sequence number")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "replay the journal and print the resulting state")
	return cmd
}

func printJournal(cmd *cobra.Command, opts *JournalOptions, path string) error {
	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	records, err := j.Records(cmd.Context(), opts.After)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	entries := make([]JournalEntry, len(records))
	for i, r := range records {
		entries[i] = newJournalEntry(r)
	}

	return opts.formatter(cmd).Success(entries, func(w io.Writer) {
		for _, e := range entries {
			fmt.Fprintf(w, "%6d  %-13s %-12s T+%-12s %s\n",
				e.Seq, e.Op, e.SongID, time.Duration(e.AtMs)*time.Millisecond, e.Detail)
		}
		fmt.Fprintf(w, "%d records\n", len(entries))
	})
}

func newJournalEntry(r journal.Record) JournalEntry {
	e := JournalEntry{
		Seq:        r.Seq,
		Op:         string(r.Op),
		SongID:     string(r.SongID),
		AtMs:       r.At.Milliseconds(),
		RecordedAt: r.RecordedAt,
	}
	switch {
	case r.Draft != nil:
		e.Detail = fmt.Sprintf("%s - %s", r.Draft.Artist, r.Draft.Title)
	case r.Event != nil:
		e.Detail = r.Event.String()
		if r.Event.ID != "" {
			e.Detail += " id=" + r.Event.ID
		}
	case r.Op == journal.OpAdvance:
		e.Detail = "+" + r.Advance.String()
	}
	return e
}

func replayJournal(cmd *cobra.Command, opts *JournalOptions, path string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	svc := service.New(
		service.WithJournalPath(path),
		service.WithEngineOptions(cfg.EngineOptions()...),
	)
	if err := svc.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	defer svc.Stop()

	summary, err := summarize(ctx, svc)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	return opts.formatter(cmd).Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "replayed %d commands, now %s\n", summary.Commands, summary.Now)
		fmt.Fprintf(w, "%d songs\n", len(summary.Songs))
		for _, e := range summary.Leaderboard {
			fmt.Fprintf(w, "%3d. %-12s %-20s %-24s %5d listens  %s\n",
				e.Rank, e.SongID, e.Artist, e.Title, e.Listens, e.Status)
		}
	})
}

func summarize(ctx context.Context, svc *service.Service) (ReplaySummary, error) {
	songs, err := svc.Songs(ctx)
	if err != nil {
		return ReplaySummary{}, err
	}
	top, err := svc.TopN(ctx)
	if err != nil {
		return ReplaySummary{}, err
	}
	return ReplaySummary{
		Commands:    svc.GetStats(ctx).Journaled,
		Now:         svc.Now().String(),
		Songs:       songs,
		Leaderboard: top,
	}, nil
}
