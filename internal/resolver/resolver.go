// Package resolver turns an input key into an ordered manifest of documents.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tendant/simple-docparser/internal/archive"
	"github.com/tendant/simple-docparser/internal/document"
	"github.com/tendant/simple-docparser/internal/upload"
	"github.com/tendant/simple-docparser/internal/workspace"
)

var (
	// ErrNoDocuments is returned when the input expands to zero documents.
	ErrNoDocuments = errors.New("no documents found in input")
	// ErrUnsupported is returned when the input is neither a document nor a zip archive.
	ErrUnsupported = errors.New("unsupported input type")
	// ErrTooManyDocuments is returned when an archive exceeds the configured limit.
	ErrTooManyDocuments = errors.New("too many documents in input")
)

// Entry is one document to convert.
type Entry struct {
	Name  string // unique within the manifest
	Ext   string // extension the backend sees, ".pdf" or ".png"
	Kind  document.Kind
	Lang  string
	Path  string // where the document was found inside the workspace
	Pages int    // 0 when unknown
	Data  []byte
}

// Manifest lists documents in processing order. A manifest returned without
// error is never empty.
type Manifest []Entry

func (m Manifest) Names() []string {
	names := make([]string, len(m))
	for i, e := range m {
		names[i] = e.Name
	}
	return names
}

// Pages sums the known page counts.
func (m Manifest) Pages() int {
	total := 0
	for _, e := range m {
		total += e.Pages
	}
	return total
}

type Options struct {
	DefaultLang  string
	MaxDocuments int // 0 means unlimited
}

type Resolver struct {
	client *upload.Client
	opts   Options
	logger *slog.Logger
}

func New(client *upload.Client, opts Options, logger *slog.Logger) *Resolver {
	if opts.DefaultLang == "" {
		opts.DefaultLang = "en"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, opts: opts, logger: logger}
}

// Resolve downloads key into the workspace input zone and expands it.
func (r *Resolver) Resolve(ctx context.Context, key string, ws *workspace.Workspace) (Manifest, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("empty input key")
	}
	src, err := r.client.Fetch(ctx, key, ws.InputDir())
	if err != nil {
		return nil, err
	}

	kind, mime, err := document.DetectFile(src.Path)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With("key", key, "mime", mime, "size", src.Size)

	switch kind {
	case document.KindPDF, document.KindImage:
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		e, err := r.entry(document.Stem(key), kind, src.Path, data, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("resolved single document", "name", e.Name, "pages", e.Pages)
		return Manifest{e}, nil

	case document.KindArchive:
		return r.expand(ctx, src.Path, ws, logger)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mime)
	}
}

func (r *Resolver) expand(ctx context.Context, zipPath string, ws *workspace.Workspace, logger *slog.Logger) (Manifest, error) {
	dir, err := ws.EnsureZone(workspace.ZoneExtracted)
	if err != nil {
		return nil, err
	}
	files, err := archive.Extract(zipPath, dir)
	if err != nil {
		return nil, fmt.Errorf("extract input: %w", err)
	}
	logger.Debug("extracted archive", "files", files)

	var manifest Manifest
	names := newNamer()
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, "._") || !d.Type().IsRegular() || !document.IsDocumentExt(name) {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		kind, mime := document.Detect(data)
		if !document.MatchesExt(name, kind) {
			logger.Warn("skipping file whose content does not match its extension", "file", filepath.ToSlash(rel), "mime", mime)
			return nil
		}

		if r.opts.MaxDocuments > 0 && len(manifest) >= r.opts.MaxDocuments {
			return fmt.Errorf("%w: limit is %d", ErrTooManyDocuments, r.opts.MaxDocuments)
		}
		e, err := r.entry(names.next(document.Stem(name)), kind, path, data, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.ToSlash(rel), err)
		}
		manifest = append(manifest, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, ErrNoDocuments
	}

	logger.Info("resolved archive", "documents", len(manifest), "pages", manifest.Pages())
	return manifest, nil
}

func (r *Resolver) entry(name string, kind document.Kind, path string, data []byte, logger *slog.Logger) (Entry, error) {
	e := Entry{Name: name, Kind: kind, Lang: r.opts.DefaultLang, Path: path}
	switch kind {
	case document.KindPDF:
		e.Ext = ".pdf"
		e.Data = data
		pages, err := document.ProbePDF(data)
		if err != nil {
			logger.Warn("could not count pages", "name", name, "err", err)
		}
		e.Pages = pages
	case document.KindImage:
		png, err := document.NormalizeImage(data)
		if err != nil {
			return Entry{}, err
		}
		e.Ext = ".png"
		e.Data = png
		e.Pages = 1
	default:
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	return e, nil
}

// namer hands out unique names, suffixing repeats with _2, _3, ...
type namer map[string]bool

func newNamer() namer { return namer{} }

func (n namer) next(stem string) string {
	if !n[stem] {
		n[stem] = true
		return stem
	}
	for i := 2; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i)
		if !n[candidate] {
			n[candidate] = true
			return candidate
		}
	}
}
