// internal/upload/client.go
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/tendant/simple-docparser/internal/storage"
)

// Client moves job inputs and results between the object store and local disk.
type Client struct {
	store  storage.Store
	prefix string
}

// NewClient wraps store. Published results are written under prefix when set.
func NewClient(store storage.Store, prefix string) *Client {
	return &Client{store: store, prefix: prefix}
}

func (c *Client) Store() storage.Store { return c.store }

// Source represents a downloaded input stored on disk.
type Source struct {
	Key      string
	Path     string
	Filename string
	Size     int64
}

// fileDownloader is implemented by stores that can write straight to a file.
type fileDownloader interface {
	DownloadFile(ctx context.Context, key, dst string) (int64, error)
}

// Fetch downloads key into dir, naming the file after the key's base name.
func (c *Client) Fetch(ctx context.Context, key, dir string) (*Source, error) {
	filename := path.Base(key)
	if filename == "" || filename == "." || filename == ".." || filename == "/" {
		filename = "input"
	}
	dst := filepath.Join(dir, filename)

	size, err := c.download(ctx, key, dst)
	if err != nil {
		return nil, err
	}
	return &Source{Key: key, Path: dst, Filename: filename, Size: size}, nil
}

// Download writes key to the file at dst.
func (c *Client) Download(ctx context.Context, key, dst string) error {
	_, err := c.download(ctx, key, dst)
	return err
}

func (c *Client) download(ctx context.Context, key, dst string) (int64, error) {
	if fd, ok := c.store.(fileDownloader); ok {
		n, err := fd.DownloadFile(ctx, key, dst)
		if err != nil {
			return 0, fmt.Errorf("download %s: %w", key, err)
		}
		return n, nil
	}

	reader, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(out, reader)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("copy %s to disk: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("close %s: %w", dst, err)
	}
	return n, nil
}

// ResultKey is the object key a job's packaged output is published under.
func (c *Client) ResultKey(jobID string) string {
	name := jobID + ".zip"
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// Publish uploads the artifact at artifactPath under the job's result key and
// returns that key.
func (c *Client) Publish(ctx context.Context, artifactPath, jobID string) (string, error) {
	if jobID == "" {
		return "", errors.New("publish: empty job id")
	}
	key := c.ResultKey(jobID)
	if err := c.Upload(ctx, key, artifactPath); err != nil {
		return "", err
	}
	return key, nil
}

// Upload stores the file at src under key.
func (c *Client) Upload(ctx context.Context, key, src string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer file.Close()

	if err := c.store.Put(ctx, key, file); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
