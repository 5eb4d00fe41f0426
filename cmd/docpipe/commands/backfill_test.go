package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-docparser/internal/storage"
	"github.com/tendant/simple-docparser/pkg/schema"
)

type recordingPublisher struct {
	subjects []string
	keys     []string
	err      error
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.keys = append(p.keys, v.(schema.JobRequest).Input.ObjectPath)
	return nil
}

func seededStore(t *testing.T, keys ...string) storage.Store {
	t.Helper()
	s := storage.NewMemory()
	for _, k := range keys {
		require.NoError(t, s.Put(context.Background(), k, bytes.NewReader([]byte("x"))))
	}
	return s
}

func TestReadKeys(t *testing.T) {
	keys, err := readKeys(strings.NewReader("a.pdf\n\n# old batch\n  b.zip  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.zip"}, keys)
}

func TestBackfillPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	b := &backfiller{
		store:   seededStore(t, "in/a.pdf", "in/b.zip", "in/notes.txt"),
		pub:     pub,
		subject: "docparser.jobs",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	stats, err := b.Run(context.Background(), []string{"in/a.pdf", "in/notes.txt", "in/gone.pdf", "in/b.zip"})
	require.NoError(t, err)
	assert.Equal(t, backfillStats{Queued: 2, SkippedMissing: 1, SkippedUnsupported: 1}, stats)
	assert.Equal(t, []string{"in/a.pdf", "in/b.zip"}, pub.keys)
	assert.Equal(t, []string{"docparser.jobs", "docparser.jobs"}, pub.subjects)
}

func TestBackfillDryRunAndLimit(t *testing.T) {
	b := &backfiller{
		store:  seededStore(t, "a.pdf", "b.pdf", "c.pdf"),
		limit:  2,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	stats, err := b.Run(context.Background(), []string{"a.pdf", "b.pdf", "c.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
}

func TestBackfillPublishError(t *testing.T) {
	b := &backfiller{
		store:  seededStore(t, "a.pdf"),
		pub:    &recordingPublisher{err: errors.New("nats down")},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	_, err := b.Run(context.Background(), []string{"a.pdf"})
	assert.ErrorContains(t, err, "nats down")
}
