// Package dispatch hands a manifest to the conversion backend, either in one
// batch call or one document at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/simple-docparser/internal/converters"
	"github.com/tendant/simple-docparser/internal/resolver"
)

type Mode string

const (
	ModeBatch      Mode = "batch"
	ModeSequential Mode = "sequential"
)

// ParseMode accepts "batch" or "sequential", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBatch:
		return ModeBatch, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q (supported: batch, sequential)", s)
	}
}

// Target is where converted output and backend scratch files go.
type Target struct {
	OutputDir  string
	StagingDir string
}

type Result struct {
	Name      string
	OutputDir string
	Duration  time.Duration
}

// Outcome records what a successful dispatch produced.
type Outcome struct {
	Mode      Mode
	Converter string
	Results   []Result
	Duration  time.Duration
}

type Dispatcher interface {
	Mode() Mode
	Dispatch(ctx context.Context, m resolver.Manifest, t Target) (*Outcome, error)
}

// DocumentError reports which document stopped a sequential run.
type DocumentError struct {
	Name     string
	Position int // 1-based
	Total    int
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %d of %d (%s): %v", e.Position, e.Total, e.Name, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// ErrEmptyManifest is returned when there is nothing to convert.
var ErrEmptyManifest = errors.New("empty manifest")

// New picks the dispatcher for mode. Batch mode needs a converter that can
// take many documents in one call.
func New(mode Mode, conv converters.Converter, opts converters.Options) (Dispatcher, error) {
	if conv == nil {
		return nil, errors.New("nil converter")
	}
	if err := converters.ValidateOptions(opts); err != nil {
		return nil, err
	}
	switch mode {
	case ModeBatch:
		bc, ok := conv.(converters.BatchConverter)
		if !ok {
			return nil, fmt.Errorf("converter %s cannot run in batch mode", conv.Name())
		}
		return &Batch{conv: bc, opts: opts}, nil
	case ModeSequential:
		return &Sequential{conv: conv, opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", mode)
	}
}

func toDocument(e resolver.Entry) converters.Document {
	return converters.Document{Name: e.Name, Ext: e.Ext, Data: e.Data, Lang: e.Lang}
}

// Batch converts the whole manifest in one backend call. The call either
// succeeds for every document or fails as a whole.
type Batch struct {
	conv converters.BatchConverter
	opts converters.Options
}

func (b *Batch) Mode() Mode { return ModeBatch }

func (b *Batch) Dispatch(ctx context.Context, m resolver.Manifest, t Target) (*Outcome, error) {
	if len(m) == 0 {
		return nil, ErrEmptyManifest
	}
	docs := make([]converters.Document, len(m))
	for i, e := range m {
		docs[i] = toDocument(e)
	}

	start := time.Now()
	err := b.conv.ConvertBatch(ctx, converters.BatchRequest{
		Documents:  docs,
		OutputDir:  t.OutputDir,
		StagingDir: t.StagingDir,
		Options:    b.opts,
	})
	if err != nil {
		return nil, fmt.Errorf("batch of %d documents: %w", len(m), err)
	}
	elapsed := time.Since(start)

	out := &Outcome{Mode: ModeBatch, Converter: b.conv.Name(), Duration: elapsed}
	for _, e := range m {
		out.Results = append(out.Results, Result{
			Name:      e.Name,
			OutputDir: filepath.Join(t.OutputDir, e.Name),
		})
	}
	return out, nil
}

// Sequential converts documents one at a time in manifest order, each into
// its own directory under the output zone. The first failure stops the run.
type Sequential struct {
	conv converters.Converter
	opts converters.Options
}

func (s *Sequential) Mode() Mode { return ModeSequential }

func (s *Sequential) Dispatch(ctx context.Context, m resolver.Manifest, t Target) (*Outcome, error) {
	if len(m) == 0 {
		return nil, ErrEmptyManifest
	}

	start := time.Now()
	out := &Outcome{Mode: ModeSequential, Converter: s.conv.Name()}
	for i, e := range m {
		if err := ctx.Err(); err != nil {
			return nil, &DocumentError{Name: e.Name, Position: i + 1, Total: len(m), Err: err}
		}

		dir := filepath.Join(t.OutputDir, e.Name)
		docStart := time.Now()
		err := s.conv.Convert(ctx, converters.Request{
			Document:   toDocument(e),
			OutputDir:  dir,
			StagingDir: t.StagingDir,
			Options:    s.opts,
		})
		if err != nil {
			return nil, &DocumentError{Name: e.Name, Position: i + 1, Total: len(m), Err: err}
		}
		out.Results = append(out.Results, Result{Name: e.Name, OutputDir: dir, Duration: time.Since(docStart)})
	}
	out.Duration = time.Since(start)
	return out, nil
}
