package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-docparser/internal/converters"
	"github.com/tendant/simple-docparser/internal/document"
)

var (
	convertOutput  string
	convertLang    string
	convertTimeout time.Duration
	convertProbe   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert FILE",
	Short: "Run the configured converter on one local document",
	Long: `convert skips object storage and the job pipeline: it feeds a single PDF
or image straight to the converter. Use --probe to only show what the
file was detected as.`,
	Example: `  docpipe convert report.pdf
  docpipe convert scan.jpg --lang ch -o scan_out
  docpipe convert report.pdf --probe`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output directory (default <name>_out next to the input)")
	convertCmd.Flags().StringVar(&convertLang, "lang", "", "OCR language (default DEFAULT_LANG)")
	convertCmd.Flags().DurationVar(&convertTimeout, "timeout", 30*time.Minute, "conversion timeout")
	convertCmd.Flags().BoolVar(&convertProbe, "probe", false, "show file metadata only")
	rootCmd.AddCommand(convertCmd)
}

type probed struct {
	Doc  converters.Document
	Kind document.Kind
	Mime string
	Size int64
}

// loadDocument reads a local PDF or image and prepares it the way the
// resolver prepares documents taken from an archive.
func loadDocument(path, lang string) (*probed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kind, mime := document.Detect(data)
	p := &probed{Kind: kind, Mime: mime, Size: int64(len(data))}
	p.Doc = converters.Document{Name: document.Stem(path), Lang: lang}

	switch kind {
	case document.KindPDF:
		p.Doc.Ext = ".pdf"
		p.Doc.Data = data
	case document.KindImage:
		png, err := document.NormalizeImage(data)
		if err != nil {
			return nil, err
		}
		p.Doc.Ext = ".png"
		p.Doc.Data = png
	default:
		return p, fmt.Errorf("unsupported file type %s (supported: pdf, png, jpeg)", mime)
	}
	return p, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	lang := convertLang
	if lang == "" {
		lang = cfg.Pipeline.DefaultLang
	}

	p, err := loadDocument(input, lang)
	if convertProbe {
		if p != nil {
			printProbe(cmd.OutOrStdout(), input, p)
		}
		return err
	}
	if err != nil {
		return err
	}

	conv, err := converters.GetConverter(cfg.Converter)
	if err != nil {
		return err
	}

	out := convertOutput
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + "_out"
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), convertTimeout)
	defer cancel()

	logger.Info("converting", "input", input, "converter", conv.Name(), "backend", cfg.Pipeline.Options.Backend, "lang", lang)
	start := time.Now()
	err = conv.Convert(ctx, converters.Request{
		Document:  p.Doc,
		OutputDir: out,
		Options:   cfg.Pipeline.Options,
	})
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Output: %s\n", out)
	fmt.Fprintf(w, "Time:   %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func printProbe(w io.Writer, input string, p *probed) {
	fmt.Fprintln(w, "File Metadata:")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "%-12s %s\n", "File:", filepath.Base(input))
	fmt.Fprintf(w, "%-12s %s\n", "MIME type:", p.Mime)
	fmt.Fprintf(w, "%-12s %s\n", "Kind:", p.Kind)
	fmt.Fprintf(w, "%-12s %s\n", "Size:", formatBytes(p.Size))
	if p.Kind == document.KindPDF {
		if pages, err := document.ProbePDF(p.Doc.Data); err == nil {
			fmt.Fprintf(w, "%-12s %d\n", "Pages:", pages)
		} else {
			fmt.Fprintf(w, "%-12s unknown (%v)\n", "Pages:", err)
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
