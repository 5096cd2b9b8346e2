package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arxis/aviladb/cost"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Backend.Kind)
	assert.Equal(t, 4<<20, cfg.Storage.MaxDocumentSize)
	assert.Equal(t, int64(50<<30), cfg.Storage.MaxPartitionSize)
	assert.Equal(t, "hot", cfg.Storage.DefaultClass)
	assert.Equal(t, "go-json", cfg.Storage.Codec)
	assert.Equal(t, 12, cfg.Optimizer.DPThreshold)
	assert.Equal(t, cost.DefaultWeights, *cfg.Optimizer.Weights)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, "cosine", cfg.Index.Metric)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AVILA_BUCKET", "docs")
	path := filepath.Join(t.TempDir(), "aviladb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  kind: minio
  endpoint: ${AVILA_ENDPOINT:-localhost:9000}
  bucket: ${AVILA_BUCKET}
  cache_size: 1024
storage:
  default_class: archive
optimizer:
  dp_threshold: 8
  weights:
    cpu: 0.02
    io: 1
    random_io_factor: 0.5
    epsilon: 0.000001
resources:
  memory_limit_bytes: 1048576
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.Backend.Endpoint)
	assert.Equal(t, "docs", cfg.Backend.Bucket)
	assert.Equal(t, 1024, cfg.Backend.CacheSize)
	assert.Equal(t, "archive", cfg.Storage.DefaultClass)
	assert.Equal(t, 8, cfg.Optimizer.DPThreshold)
	assert.Equal(t, 0.02, cfg.Optimizer.Weights.CPU)
	assert.Equal(t, 0.5, cfg.Optimizer.Weights.RandomIOFactor)
	assert.Equal(t, int64(1<<20), cfg.Resources.MemoryLimitBytes)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"UnknownBackend", "backend: {kind: tape}", "backend.kind"},
		{"LocalWithoutPath", "backend: {kind: local}", "backend.path"},
		{"MinioWithoutEndpoint", "backend: {kind: minio, bucket: b}", "backend.endpoint"},
		{"S3WithoutBucket", "backend: {kind: s3}", "backend.bucket"},
		{"DynamoWithoutTable", "backend: {kind: dynamodb}", "backend.table"},
		{"RedisWithoutAddrs", "backend: {kind: redis}", "backend.addrs"},
		{"NegativeCache", "backend: {cache_size: -1}", "backend.cache_size"},
		{"BadClass", "storage: {default_class: cold}", "storage.default_class"},
		{"BadCodec", "storage: {codec: msgpack}", "storage.codec"},
		{"ThresholdTooHigh", "optimizer: {dp_threshold: 30}", "optimizer.dp_threshold"},
		{"NegativeWeight", "optimizer: {weights: {cpu: -1}}", "optimizer.weights"},
		{"BadMetric", "index: {metric: hamming}", "index.metric"},
		{"BadLevel", "logging: {level: trace}", "logging.level"},
		{"BadFormat", "logging: {format: xml}", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidBackends(t *testing.T) {
	for _, y := range []string{
		"backend: {kind: memory}",
		"backend: {kind: local, path: /tmp/x}",
		"backend: {kind: sqlite, path: /tmp/x.db}",
		"backend: {kind: minio, endpoint: 'localhost:9000', bucket: b}",
		"backend: {kind: s3, bucket: b, region: eu-west-1}",
		"backend: {kind: dynamodb, table: t}",
		"backend: {kind: redis, addrs: ['localhost:6379']}",
	} {
		_, err := Parse([]byte(y))
		assert.NoError(t, err, y)
	}
}
