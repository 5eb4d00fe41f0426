package converters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tendant/simple-docparser/internal/archive"
)

// API talks to a running mineru-api server. All documents of a batch are
// posted as one multipart request and the server answers with a zip.
type API struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
}

// NewAPI creates a converter for the mineru-api server at baseURL. A zero
// timeout leaves the request bounded only by its context.
func NewAPI(baseURL string, timeout time.Duration) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// Name returns the converter name
func (a *API) Name() string {
	return "mineru-api"
}

// Convert posts a single document.
func (a *API) Convert(ctx context.Context, req Request) error {
	return a.ConvertBatch(ctx, BatchRequest{
		Documents:  []Document{req.Document},
		OutputDir:  req.OutputDir,
		StagingDir: req.StagingDir,
		Options:    req.Options,
	})
}

// ConvertBatch posts every document in one request and extracts the zipped
// response into req.OutputDir.
func (a *API) ConvertBatch(ctx context.Context, req BatchRequest) error {
	if len(req.Documents) == 0 {
		return fmt.Errorf("empty batch")
	}

	var payload []byte
	op := func() error {
		body, err := a.post(ctx, req)
		if err != nil {
			return err
		}
		payload = body
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if _, err := archive.ExtractReader(bytes.NewReader(payload), int64(len(payload)), req.OutputDir); err != nil {
		return fmt.Errorf("unpack mineru-api response: %w", err)
	}
	return nil
}

func (a *API) post(ctx context.Context, req BatchRequest) ([]byte, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/file_parse", body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("mineru-api request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mineru-api response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("mineru-api busy: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("mineru-api failed: %s\nOutput: %s", resp.Status, tail(data, 4096)))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "zip") {
		return nil, backoff.Permanent(fmt.Errorf("mineru-api returned %q, expected a zip", ct))
	}
	return data, nil
}

func encodeForm(req BatchRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, d := range req.Documents {
		part, err := w.CreateFormFile("files", d.FileName())
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(d.Data); err != nil {
			return nil, "", err
		}
		lang := d.Lang
		if lang == "" {
			lang = "en"
		}
		if err := w.WriteField("lang_list", lang); err != nil {
			return nil, "", err
		}
	}

	fields := [][2]string{
		{"backend", req.Backend},
		{"parse_method", req.Method},
		{"start_page_id", strconv.Itoa(req.StartPage)},
		{"return_md", "true"},
		{"return_middle_json", "true"},
		{"return_content_list", "true"},
		{"return_images", "true"},
		{"response_format_zip", "true"},
	}
	if req.EndPage >= 0 {
		fields = append(fields, [2]string{"end_page_id", strconv.Itoa(req.EndPage)})
	}
	if req.ServerURL != "" {
		fields = append(fields, [2]string{"server_url", req.ServerURL})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ErrUnavailable is returned by Ping when the server does not answer.
var ErrUnavailable = errors.New("mineru-api unavailable")

// Ping checks that the server is reachable.
func (a *API) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/docs", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}
