package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-docparser/internal/converters"
	"github.com/tendant/simple-docparser/internal/resolver"
)

// fakeConverter records calls and fails on the document named failOn.
type fakeConverter struct {
	failOn  string
	err     error
	singles []converters.Request
	batches []converters.BatchRequest
}

func (f *fakeConverter) Name() string { return "fake" }

func (f *fakeConverter) Convert(ctx context.Context, req converters.Request) error {
	f.singles = append(f.singles, req)
	if req.Document.Name == f.failOn {
		return f.err
	}
	return nil
}

type fakeBatchConverter struct {
	fakeConverter
}

func (f *fakeBatchConverter) ConvertBatch(ctx context.Context, req converters.BatchRequest) error {
	f.batches = append(f.batches, req)
	return f.err
}

func opts() converters.Options {
	return converters.Options{Backend: "pipeline", Method: "auto", EndPage: -1}
}

func manifest(names ...string) resolver.Manifest {
	m := make(resolver.Manifest, len(names))
	for i, n := range names {
		m[i] = resolver.Entry{Name: n, Ext: ".pdf", Lang: "en", Data: []byte(n)}
	}
	return m
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Batch")
	require.NoError(t, err)
	assert.Equal(t, ModeBatch, m)

	m, err = ParseMode(" sequential ")
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, m)

	_, err = ParseMode("parallel")
	assert.Error(t, err)
}

func TestNewRejectsBatchWithoutBatchConverter(t *testing.T) {
	_, err := New(ModeBatch, &fakeConverter{}, opts())
	assert.Error(t, err)

	d, err := New(ModeSequential, &fakeConverter{}, opts())
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, d.Mode())

	_, err = New(ModeBatch, &fakeBatchConverter{}, converters.Options{Backend: "nope", Method: "auto"})
	assert.Error(t, err)
}

func TestBatchDispatchOneCall(t *testing.T) {
	conv := &fakeBatchConverter{}
	d, err := New(ModeBatch, conv, opts())
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), manifest("doc1", "doc2"), Target{OutputDir: "/w/output", StagingDir: "/w/staging"})
	require.NoError(t, err)

	require.Len(t, conv.batches, 1)
	assert.Empty(t, conv.singles)
	req := conv.batches[0]
	assert.Equal(t, []string{"doc1", "doc2"}, req.Names())
	assert.Equal(t, "/w/output", req.OutputDir)
	assert.Equal(t, "/w/staging", req.StagingDir)
	assert.Equal(t, "pipeline", req.Backend)
	assert.Equal(t, "auto", req.Method)
	assert.Equal(t, 0, req.StartPage)
	assert.Equal(t, -1, req.EndPage)
	assert.Equal(t, []byte("doc1"), req.Documents[0].Data)

	assert.Equal(t, ModeBatch, out.Mode)
	assert.Equal(t, "fake", out.Converter)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "/w/output/doc2", out.Results[1].OutputDir)
}

func TestBatchDispatchFailure(t *testing.T) {
	boom := errors.New("backend crashed")
	conv := &fakeBatchConverter{fakeConverter{err: boom}}
	d, err := New(ModeBatch, conv, opts())
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), manifest("doc1", "doc2"), Target{OutputDir: t.TempDir()})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
}

func TestSequentialDispatchInOrder(t *testing.T) {
	conv := &fakeConverter{}
	d, err := New(ModeSequential, conv, opts())
	require.NoError(t, err)

	out, err := d.Dispatch(context.Background(), manifest("a", "b", "c"), Target{OutputDir: "/w/output"})
	require.NoError(t, err)

	require.Len(t, conv.singles, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, conv.singles[i].Document.Name)
		assert.Equal(t, "/w/output/"+name, conv.singles[i].OutputDir)
	}
	assert.Equal(t, ModeSequential, out.Mode)
	assert.Len(t, out.Results, 3)
}

func TestSequentialStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("page 4 unreadable")
	conv := &fakeConverter{failOn: "doc2", err: boom}
	d, err := New(ModeSequential, conv, opts())
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), manifest("doc1", "doc2", "doc3"), Target{OutputDir: t.TempDir()})
	require.ErrorIs(t, err, boom)

	var de *DocumentError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "doc2", de.Name)
	assert.Equal(t, 2, de.Position)
	assert.Equal(t, 3, de.Total)
	assert.Contains(t, err.Error(), "document 2 of 3 (doc2)")

	// doc3 is never attempted
	require.Len(t, conv.singles, 2)
	assert.Equal(t, "doc2", conv.singles[1].Document.Name)
}

func TestSequentialHonoursCancellation(t *testing.T) {
	conv := &fakeConverter{}
	d, err := New(ModeSequential, conv, opts())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dispatch(ctx, manifest("a", "b"), Target{OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conv.singles)
}

func TestEmptyManifest(t *testing.T) {
	for _, mode := range []Mode{ModeBatch, ModeSequential} {
		d, err := New(mode, &fakeBatchConverter{}, opts())
		require.NoError(t, err)
		_, err = d.Dispatch(context.Background(), nil, Target{})
		assert.ErrorIs(t, err, ErrEmptyManifest, mode)
	}
}
