// Package backend opens the key-value substrate named by a configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arxis/aviladb/config"
	"github.com/arxis/aviladb/kv"
	kvdynamodb "github.com/arxis/aviladb/kv/dynamodb"
	kvminio "github.com/arxis/aviladb/kv/minio"
	kvredis "github.com/arxis/aviladb/kv/redis"
	kvs3 "github.com/arxis/aviladb/kv/s3"
	kvsqlite "github.com/arxis/aviladb/kv/sqlite"
)

// Backend is an opened substrate and the function releasing it.
type Backend struct {
	Store kv.Store
	close func() error
}

// Close releases connections and files held by the backend.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the store described by cfg. A positive CacheSize puts an LRU
// in front of it.
func Open(ctx context.Context, cfg config.BackendConfig) (*Backend, error) {
	b, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Kind, err)
	}
	if cfg.CacheSize > 0 {
		cached, err := kv.NewCachingStore(b.Store, cfg.CacheSize)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("open %s backend: %w", cfg.Kind, err)
		}
		b.Store = cached
	}
	return b, nil
}

func open(ctx context.Context, cfg config.BackendConfig) (*Backend, error) {
	switch cfg.Kind {
	case "memory", "":
		return &Backend{Store: prefixed(kv.NewMemoryStore(), cfg.Prefix)}, nil

	case "local":
		s, err := kv.NewLocalStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: prefixed(s, cfg.Prefix)}, nil

	case "sqlite":
		s, err := kvsqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: prefixed(s, cfg.Prefix), close: s.Close}, nil

	case "minio":
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return &Backend{Store: kvminio.NewStore(client, cfg.Bucket, cfg.Prefix)}, nil

	case "s3":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		})
		return &Backend{Store: kvs3.NewStore(client, cfg.Bucket, cfg.Prefix)}, nil

	case "dynamodb":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		return &Backend{Store: kvdynamodb.NewStore(client, cfg.Table, cfg.Prefix)}, nil

	case "redis":
		s, err := kvredis.NewStore(kvredis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, close: func() error { s.Close(); return nil }}, nil
	}
	return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
}

func loadAWS(ctx context.Context, cfg config.BackendConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func prefixed(s kv.Store, prefix string) kv.Store {
	if prefix == "" {
		return s
	}
	return kv.WithPrefix(s, prefix)
}
