// Package converters provides interfaces and implementations for running
// documents through the MinerU conversion backend.
package converters

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Converter converts one document per call.
type Converter interface {
	// Name returns the converter name (e.g., "mineru-cli", "mineru-api")
	Name() string

	// Convert writes the backend output for one document under req.OutputDir
	Convert(ctx context.Context, req Request) error
}

// BatchConverter can also convert a whole set of documents in one call.
type BatchConverter interface {
	Converter

	// ConvertBatch writes the output for every document under req.OutputDir,
	// one subtree per document name. Either all documents succeed or an error
	// is returned and no output is to be trusted.
	ConvertBatch(ctx context.Context, req BatchRequest) error
}

// Document is one input handed to the backend.
type Document struct {
	Name string // unique within a job, used as the output subtree name
	Ext  string // file extension including the dot, e.g. ".pdf"
	Data []byte
	Lang string
}

// FileName is the name the document is staged under.
func (d Document) FileName() string {
	return d.Name + d.Ext
}

// Options are the backend knobs shared by both request kinds.
type Options struct {
	Backend   string // pipeline, vlm-transformers, vlm-http-client, ...
	Method    string // auto, txt, ocr
	StartPage int    // zero-based first page
	EndPage   int    // zero-based last page, negative means until the end
	ServerURL string // for *-http-client backends
}

// Request converts a single document.
type Request struct {
	Document   Document
	OutputDir  string
	StagingDir string // scratch space for staging inputs; defaults to os.TempDir
	Options
}

// BatchRequest converts documents in order.
type BatchRequest struct {
	Documents  []Document
	OutputDir  string
	StagingDir string
	Options
}

// Names returns the ordered document names.
func (r BatchRequest) Names() []string {
	names := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		names[i] = d.Name
	}
	return names
}

// Config selects and configures a converter.
type Config struct {
	Kind        string // command or api
	Binary      string
	ModelSource string
	DeviceMode  string
	VirtualVRAM string
	APIURL      string
	APITimeout  time.Duration
}

// GetConverter returns the converter described by cfg.
func GetConverter(cfg Config) (Converter, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "command", "cli":
		return NewCommand(cfg), nil
	case "api", "http":
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("converter %q requires an API URL", cfg.Kind)
		}
		return NewAPI(cfg.APIURL, cfg.APITimeout), nil
	default:
		return nil, fmt.Errorf("unsupported converter: %s (supported: command, api)", cfg.Kind)
	}
}

// SupportedBackends lists the MinerU backend names accepted by both converters.
func SupportedBackends() []string {
	return []string{
		"pipeline",
		"vlm-transformers",
		"vlm-vllm-engine",
		"vlm-http-client",
	}
}

// ValidateOptions checks backend and method values before any work starts.
func ValidateOptions(o Options) error {
	found := false
	for _, b := range SupportedBackends() {
		if b == o.Backend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unsupported backend %q (supported: %s)", o.Backend, strings.Join(SupportedBackends(), ", "))
	}
	switch o.Method {
	case "auto", "txt", "ocr":
	default:
		return fmt.Errorf("unsupported parse method %q (supported: auto, txt, ocr)", o.Method)
	}
	if o.StartPage < 0 {
		return fmt.Errorf("start page must not be negative (got %d)", o.StartPage)
	}
	if o.EndPage >= 0 && o.EndPage < o.StartPage {
		return fmt.Errorf("end page %d is before start page %d", o.EndPage, o.StartPage)
	}
	if o.Backend == "vlm-http-client" && o.ServerURL == "" {
		return fmt.Errorf("backend %s requires a server URL", o.Backend)
	}
	return nil
}
