package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/loudsound/internal/testevents"
)

const defaultLoadTimeout = 10 * time.Minute

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Config   testevents.Config
	Deadline time.Duration
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts, Config: *testevents.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load-test a running server and verify its results",
		Long: `Generate a deterministic catalog and timeline of listening sessions, submit
them to a running loudsound server, then check the per-song counters and the
leaderboard against what the timeline implies.

The timeline starts at the server's current logical time, so repeated runs
against the same server are accepted. Use a different --seed per run to
avoid song id collisions.

Examples:
  loudsoundctl load --url http://localhost:9080
  loudsoundctl load --songs 200 --sessions 20000 --seed 7 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Config.BaseURL, "url", opts.Config.BaseURL, "base URL of the service")
	f.IntVar(&opts.Config.Songs, "songs", opts.Config.Songs, "number of songs to create")
	f.IntVar(&opts.Config.Sessions, "sessions", opts.Config.Sessions, "number of listening sessions")
	f.IntVar(&opts.Config.Users, "users", opts.Config.Users, "number of distinct listeners")
	f.Float64Var(&opts.Config.LikeRatio, "like-ratio", opts.Config.LikeRatio, "share of sessions followed by a like")
	f.Float64Var(&opts.Config.DuplicateRate, "duplicate-rate", opts.Config.DuplicateRate, "share of events sent twice")
	f.DurationVar(&opts.Config.SkipThreshold, "skip-threshold", opts.Config.SkipThreshold, "skip threshold configured on the server")
	f.IntVar(&opts.Config.Workers, "workers", runtime.NumCPU()*2, "concurrent workers for songs and ranks")
	f.DurationVar(&opts.Config.Timeout, "timeout", opts.Config.Timeout, "HTTP request timeout")
	f.Int64Var(&opts.Config.Seed, "seed", opts.Config.Seed, "seed for the generated timeline")
	f.StringVar(&opts.Config.OutputFile, "output", "", "write the generated plan to this JSON file")
	f.DurationVar(&opts.Deadline, "deadline", defaultLoadTimeout, "overall test deadline")
	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions) error {
	out := opts.formatter(cmd)
	cfg := opts.Config
	cfg.Verbose = opts.Verbose
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid load options", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Deadline)
	defer cancel()

	stats, err := testevents.Run(ctx, &cfg)
	if err != nil {
		return out.Fail(ExitFailure, err.Error(), stats, func(w io.Writer) {
			fmt.Fprintf(w, "load test failed: %v\n", err)
		})
	}
	return out.Success(stats, func(w io.Writer) {
		fmt.Fprintf(w, "songs created:      %d\n", stats.SongsCreated)
		fmt.Fprintf(w, "events submitted:   %d (accepted %d, duplicate %d, ignored %d)\n",
			stats.EventsSubmitted, stats.EventsAccepted, stats.EventsDuplicate, stats.EventsIgnored)
		fmt.Fprintf(w, "events derived:     %d\n", stats.Derived)
		fmt.Fprintf(w, "ranks retrieved:    %d\n", stats.RanksRetrieved)
		fmt.Fprintf(w, "leaderboard length: %d\n", stats.LeaderboardLength)
		fmt.Fprintf(w, "duration:           %s\n", stats.Duration.Round(time.Millisecond))
	})
}
