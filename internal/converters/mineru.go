package converters

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Command runs the mineru CLI. The CLI accepts either a file or a directory
// for -p, so a batch is one invocation over a staged directory.
type Command struct {
	bin         string
	modelSource string
	deviceMode  string
	env         []string
	run         Runner
	checkPath   bool
}

// NewCommand creates a CLI-backed converter. Model source, device and VRAM
// settings are passed to each invocation explicitly.
func NewCommand(cfg Config) *Command {
	bin := cfg.Binary
	if bin == "" {
		bin = "mineru"
	}
	var env []string
	if cfg.ModelSource != "" {
		env = append(env, "MINERU_MODEL_SOURCE="+cfg.ModelSource)
	}
	if cfg.DeviceMode != "" {
		env = append(env, "MINERU_DEVICE_MODE="+cfg.DeviceMode)
	}
	if cfg.VirtualVRAM != "" {
		env = append(env, "MINERU_VIRTUAL_VRAM_SIZE="+cfg.VirtualVRAM)
	}
	return &Command{
		bin:         bin,
		modelSource: cfg.ModelSource,
		deviceMode:  cfg.DeviceMode,
		env:         env,
		run:         execRunner,
		checkPath:   true,
	}
}

// WithRunner replaces the process runner, for tests.
func (c *Command) WithRunner(r Runner) *Command {
	c.run = r
	c.checkPath = false
	return c
}

// Name returns the converter name
func (c *Command) Name() string {
	return "mineru-cli"
}

// Convert stages the document and runs the CLI on it.
func (c *Command) Convert(ctx context.Context, req Request) error {
	stage, cleanup, err := stageDir(req.StagingDir)
	if err != nil {
		return err
	}
	defer cleanup()

	input := filepath.Join(stage, req.Document.FileName())
	if err := os.WriteFile(input, req.Document.Data, 0o644); err != nil {
		return fmt.Errorf("stage %s: %w", req.Document.Name, err)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return c.invoke(ctx, input, req.OutputDir, req.Document.Lang, req.Options)
}

// ConvertBatch stages every document into one directory and runs the CLI once.
func (c *Command) ConvertBatch(ctx context.Context, req BatchRequest) error {
	if len(req.Documents) == 0 {
		return fmt.Errorf("empty batch")
	}
	lang := req.Documents[0].Lang
	for _, d := range req.Documents[1:] {
		if d.Lang != lang {
			return fmt.Errorf("mineru cli takes one language per run, got %q and %q", lang, d.Lang)
		}
	}

	stage, cleanup, err := stageDir(req.StagingDir)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, d := range req.Documents {
		if err := os.WriteFile(filepath.Join(stage, d.FileName()), d.Data, 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", d.Name, err)
		}
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return c.invoke(ctx, stage, req.OutputDir, lang, req.Options)
}

func (c *Command) invoke(ctx context.Context, input, output, lang string, opts Options) error {
	if c.checkPath {
		if _, err := exec.LookPath(c.bin); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", c.bin, err)
		}
	}

	// -p: file or directory of documents
	// -o: output root, one subtree per document stem
	// -s/-e: zero-based page window
	args := []string{
		"-p", input,
		"-o", output,
		"-b", opts.Backend,
		"-m", opts.Method,
		"-s", strconv.Itoa(opts.StartPage),
	}
	if opts.EndPage >= 0 {
		args = append(args, "-e", strconv.Itoa(opts.EndPage))
	}
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if opts.ServerURL != "" {
		args = append(args, "-u", opts.ServerURL)
	}
	if c.deviceMode != "" {
		args = append(args, "-d", c.deviceMode)
	}
	if c.modelSource != "" {
		args = append(args, "--source", c.modelSource)
	}

	out, err := c.run(ctx, c.env, c.bin, args...)
	if err != nil {
		return fmt.Errorf("mineru failed: %w\nOutput: %s", err, tail(out, 4096))
	}
	return nil
}

func stageDir(parent string) (string, func(), error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "mineru-*")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// tail keeps the last n bytes of command output.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
