package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesOnlyInputZone(t *testing.T) {
	base := t.TempDir()

	ws, err := Acquire(base, "2025-03-14_09-26-53_4f1c2a9be07d")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "2025-03-14_09-26-53_4f1c2a9be07d"), ws.Root())
	assert.DirExists(t, ws.InputDir())
	assert.NoDirExists(t, ws.ExtractDir())
	assert.NoDirExists(t, ws.OutputDir())
	assert.NoDirExists(t, ws.PackageDir())
}

func TestAcquireRejectsExisting(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "job-1"), 0o755))

	_, err := Acquire(base, "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExists))
}

func TestAcquireRejectsPathLikeIDs(t *testing.T) {
	base := t.TempDir()
	for _, id := range []string{"", ".", "..", "a/b", "../escape"} {
		_, err := Acquire(base, id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestAcquireUnwritableBase(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Acquire(blocker, "job-1")
	assert.Error(t, err)
}

func TestEnsureZone(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "job-1")
	require.NoError(t, err)

	p, err := ws.EnsureZone(ZoneOutput)
	require.NoError(t, err)
	assert.Equal(t, ws.OutputDir(), p)
	assert.DirExists(t, p)

	// idempotent
	_, err = ws.EnsureZone(ZoneOutput)
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "job-1")
	require.NoError(t, err)
	_, err = ws.EnsureZone(ZoneOutput)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.OutputDir(), "x.md"), []byte("x"), 0o644))

	require.NoError(t, ws.Release())
	assert.NoDirExists(t, ws.Root())
	assert.True(t, ws.Released())

	require.NoError(t, ws.Release())
}

func TestReleaseWhenAlreadyRemoved(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "job-1")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(ws.Root()))

	assert.NoError(t, ws.Release())
}

func TestEnsureZoneAfterRelease(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "job-1")
	require.NoError(t, err)
	require.NoError(t, ws.Release())

	_, err = ws.EnsureZone(ZoneOutput)
	assert.Error(t, err)
	assert.NoDirExists(t, ws.Root())
}

func TestArtifactPathInPackageZone(t *testing.T) {
	ws, err := Acquire(t.TempDir(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.PackageDir(), "output.zip"), ws.ArtifactPath())
}
