package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-docparser/internal/bus"
	"github.com/tendant/simple-docparser/internal/document"
	"github.com/tendant/simple-docparser/internal/storage"
	"github.com/tendant/simple-docparser/pkg/schema"
)

var (
	backfillFrom    string
	backfillLimit   int
	backfillExecute bool
	backfillDelay   time.Duration
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [OBJECT_KEY...]",
	Short: "Queue jobs for objects that are already in storage",
	Long: `backfill publishes one job per object key to the worker queue without
waiting for results. Keys come from the arguments and from --from (one per
line, # starts a comment, - reads stdin). Without --execute it only reports
what would be queued.`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "file with one object key per line, - for stdin")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "maximum number of jobs to queue (0 = unlimited)")
	backfillCmd.Flags().BoolVar(&backfillExecute, "execute", false, "actually publish jobs (default is a dry run)")
	backfillCmd.Flags().DurationVar(&backfillDelay, "delay", 10*time.Millisecond, "pause between published jobs")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	keys := append([]string(nil), args...)
	if backfillFrom != "" {
		var r io.Reader = cmd.InOrStdin()
		if backfillFrom != "-" {
			f, err := os.Open(backfillFrom)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		more, err := readKeys(r)
		if err != nil {
			return err
		}
		keys = append(keys, more...)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no object keys given")
	}

	ctx := cmd.Context()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	b := &backfiller{
		store:   store,
		subject: cfg.NATS.JobSubject,
		limit:   backfillLimit,
		delay:   backfillDelay,
		logger:  logger,
	}
	if backfillExecute {
		nc, err := bus.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		b.pub = nc
	}

	stats, err := b.Run(ctx, keys)
	logger.Info("backfill finished",
		"dry_run", !backfillExecute,
		"queued", stats.Queued,
		"skipped_missing", stats.SkippedMissing,
		"skipped_unsupported", stats.SkippedUnsupported,
	)
	return err
}

// readKeys reads one key per line, ignoring blanks and # comments.
func readKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, sc.Err()
}

type backfillStats struct {
	Queued             int
	SkippedMissing     int
	SkippedUnsupported int
}

type backfiller struct {
	store   storage.Store
	pub     bus.JSONPublisher // nil for a dry run
	subject string
	limit   int
	delay   time.Duration
	logger  *slog.Logger
}

func (b *backfiller) Run(ctx context.Context, keys []string) (backfillStats, error) {
	var stats backfillStats
	for _, key := range keys {
		if b.limit > 0 && stats.Queued >= b.limit {
			b.logger.Info("limit reached", "limit", b.limit)
			break
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if !queueable(key) {
			stats.SkippedUnsupported++
			b.logger.Info("skipping unsupported object", "key", key)
			continue
		}
		ok, err := b.store.Exists(ctx, key)
		if err != nil {
			return stats, fmt.Errorf("check %s: %w", key, err)
		}
		if !ok {
			stats.SkippedMissing++
			b.logger.Warn("skipping missing object", "key", key)
			continue
		}

		if b.pub == nil {
			stats.Queued++
			b.logger.Info("would queue job", "key", key)
			continue
		}
		req := schema.JobRequest{Input: schema.JobInput{ObjectPath: key}}
		if err := b.pub.PublishJSON(b.subject, req); err != nil {
			return stats, fmt.Errorf("publish job for %s: %w", key, err)
		}
		stats.Queued++
		b.logger.Info("queued job", "key", key, "queued", stats.Queued)

		if b.delay > 0 {
			time.Sleep(b.delay)
		}
	}
	return stats, nil
}

// queueable reports whether key names something the pipeline accepts.
func queueable(key string) bool {
	return strings.EqualFold(path.Ext(key), ".zip") || document.IsDocumentExt(key)
}
