// Package workspace manages the per-job staging directory tree.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Zone names a logical area inside a workspace.
type Zone string

const (
	ZoneInput     Zone = "input"
	ZoneExtracted Zone = "extracted"
	ZoneOutput    Zone = "output"
	ZonePackage   Zone = "package"
	// ZoneStaging is scratch space for the conversion backend.
	ZoneStaging Zone = "staging"
)

const artifactName = "output.zip"

// ErrExists is returned by Acquire when the job directory is already present.
var ErrExists = errors.New("workspace already exists")

// Workspace is the directory tree owned by exactly one job.
// Only the input zone is created by Acquire; the others are created on first use.
type Workspace struct {
	jobID string
	root  string

	mu       sync.Mutex
	released bool
}

// Acquire creates <baseDir>/<jobID> and its input zone.
func Acquire(baseDir, jobID string) (*Workspace, error) {
	if jobID == "" || jobID != filepath.Base(jobID) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	root := filepath.Join(baseDir, jobID)
	if err := os.Mkdir(root, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, root)
		}
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	ws := &Workspace{jobID: jobID, root: root}
	if _, err := ws.EnsureZone(ZoneInput); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) JobID() string { return w.jobID }
func (w *Workspace) Root() string  { return w.root }

// Path returns the path of zone without creating it.
func (w *Workspace) Path(zone Zone) string {
	return filepath.Join(w.root, string(zone))
}

func (w *Workspace) InputDir() string   { return w.Path(ZoneInput) }
func (w *Workspace) ExtractDir() string { return w.Path(ZoneExtracted) }
func (w *Workspace) OutputDir() string  { return w.Path(ZoneOutput) }
func (w *Workspace) PackageDir() string { return w.Path(ZonePackage) }

// ArtifactPath is where the packaged output archive is written.
func (w *Workspace) ArtifactPath() string {
	return filepath.Join(w.PackageDir(), artifactName)
}

// EnsureZone creates zone if needed and returns its path.
func (w *Workspace) EnsureZone(zone Zone) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return "", fmt.Errorf("workspace %s already released", w.jobID)
	}

	p := w.Path(zone)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create %s zone: %w", zone, err)
	}
	return p, nil
}

// Release removes the whole tree. Calling it again, or after the tree was
// removed externally, is a no-op.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.root, err)
	}
	w.released = true
	return nil
}

// Released reports whether Release has completed.
func (w *Workspace) Released() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}
