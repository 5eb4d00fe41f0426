package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupMinIO starts a MinIO container and returns an S3 store bound to a fresh bucket.
func setupMinIO(t *testing.T) *S3 {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	store, err := NewS3(ctx, "docparser-test", S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Endpoint:        "http://" + host + ":" + port.Port(),
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	_, err = store.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("docparser-test")})
	require.NoError(t, err)
	return store
}

func TestS3Store(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupMinIO(t)
	exerciseStore(t, s)

	dst := filepath.Join(t.TempDir(), "input.pdf")
	n, err := s.DownloadFile(context.Background(), "jobs/input.pdf", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4 second")), n)

	_, err = s.DownloadFile(context.Background(), "jobs/missing.pdf", dst)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, dst)
}

func TestS3GetBodyIsStreamed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupMinIO(t)
	ctx := context.Background()

	payload := make([]byte, 6<<20)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.NoError(t, s.Put(ctx, "big.bin", bytes.NewReader(payload)))

	rc, err := s.Get(ctx, "big.bin")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
