package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing/object.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	ok, err := s.Exists(ctx, "missing/object.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "jobs/input.pdf", strings.NewReader("%PDF-1.4 first")))
	require.NoError(t, s.Put(ctx, "jobs/input.pdf", strings.NewReader("%PDF-1.4 second")))

	ok, err = s.Exists(ctx, "jobs/input.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, "jobs/input.pdf")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 second", string(data))

	assert.Error(t, s.Put(ctx, "", strings.NewReader("x")))
	assert.Error(t, s.Put(ctx, "/abs", strings.NewReader("x")))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestLocalStore(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocal(root)
	require.NoError(t, err)

	exerciseStore(t, s)

	assert.FileExists(t, filepath.Join(root, "jobs", "input.pdf"))
	entries, err := os.ReadDir(filepath.Join(root, "jobs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp upload files must not be left behind")
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../outside.zip", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = s.Get(context.Background(), "a/../../outside.zip")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	s, err = Open(ctx, Config{Backend: "LOCAL", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	_, err = Open(ctx, Config{Backend: "local"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "s3"})
	assert.Error(t, err, "bucket is required")

	_, err = Open(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)
}
