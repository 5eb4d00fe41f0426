package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestPackPreservesRelativePaths(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a", "b.json"), `{"k":1}`)
	writeFile(t, filepath.Join(src, "c.md"), "# title")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty", "nested"), 0o755))

	dst := filepath.Join(t.TempDir(), "pkg", "output.zip")
	art, err := Pack(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, art.Entries)
	assert.Equal(t, dst, art.Path)
	assert.Positive(t, art.Size)

	names, err := Entries(dst)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b.json", "c.md"}, names)
}

func TestPackEmptyDir(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "output.zip")
	art, err := Pack(t.TempDir(), dst)
	require.NoError(t, err)
	assert.Equal(t, 0, art.Entries)

	names, err := Entries(dst)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPackMissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "output.zip")
	_, err := Pack(filepath.Join(t.TempDir(), "nope"), dst)
	require.Error(t, err)
	assert.NoFileExists(t, dst)
}

func TestPackRoundTripsContent(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "doc1", "auto", "doc1.md"), "hello")

	dst := filepath.Join(t.TempDir(), "output.zip")
	_, err := Pack(src, dst)
	require.NoError(t, err)

	out := t.TempDir()
	n, err := Extract(dst, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(out, "doc1", "auto", "doc1.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtractNested(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.zip")
	writeZip(t, src, map[string]string{
		"doc1.pdf":          "%PDF-1",
		"folder/doc2.pdf":   "%PDF-2",
		"folder/deep/x.txt": "text",
	})

	dst := t.TempDir()
	n, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.FileExists(t, filepath.Join(dst, "folder", "deep", "x.txt"))
}

func TestExtractRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.pdf", "a/../../evil.pdf", "/abs/evil.pdf"} {
		t.Run(name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "in.zip")
			writeZip(t, src, map[string]string{name: "x"})

			parent := t.TempDir()
			dst := filepath.Join(parent, "out")
			_, err := Extract(src, dst)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsafePath) || errors.Is(err, ErrCorrupt), "got %v", err)
			assert.NoFileExists(t, filepath.Join(parent, "evil.pdf"))
		})
	}
}

func TestExtractCorrupt(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.zip")
	writeFile(t, src, "PK\x03\x04 definitely not a zip")

	_, err := Extract(src, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}
