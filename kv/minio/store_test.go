package minio

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/kv"
	"github.com/arxis/aviladb/kv/kvtest"
)

// TestStore_Integration requires a running MinIO instance addressed by
// AVILADB_MINIO_ENDPOINT (access key and secret default to minioadmin).
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("AVILADB_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("AVILADB_MINIO_ENDPOINT not set")
	}
	bucket := "aviladb-test"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	kvtest.Run(t, func(t *testing.T) kv.Store {
		return NewStore(client, bucket, t.Name()+"-"+time.Now().Format("150405.000000")+"/")
	})
}
