package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/adapter"
	"github.com/tidefs/tidegate/pkg/metrics"
	"github.com/tidefs/tidegate/pkg/tide"
	tidebadger "github.com/tidefs/tidegate/pkg/tide/badger"
	"github.com/tidefs/tidegate/pkg/tide/content"
	contentmemory "github.com/tidefs/tidegate/pkg/tide/content/memory"
	contents3 "github.com/tidefs/tidegate/pkg/tide/content/s3"
	tidememory "github.com/tidefs/tidegate/pkg/tide/memory"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// CreateConnection creates the Tide connection selected by cfg.Store.Type.
//
// The memory store keeps everything inline and ignores the content
// configuration; the badger store delegates payloads to the content store
// built from cfg.Content. storeMetrics instruments the badger store and
// may be nil.
//
// Supported types:
//   - "memory": pkg/tide/memory (ephemeral, development and tests)
//   - "badger": pkg/tide/badger (persistent, BadgerDB-backed)
func CreateConnection(ctx context.Context, cfg *Config, storeMetrics metrics.StoreMetrics) (tide.Connection, error) {
	switch cfg.Store.Type {
	case "memory":
		return createMemoryStore(ctx, cfg.Store.Memory)
	case "badger":
		return createBadgerStore(ctx, cfg, storeMetrics)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: memory, badger)", cfg.Store.Type)
	}
}

// createMemoryStore creates the in-memory node store.
func createMemoryStore(ctx context.Context, options map[string]any) (tide.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemoryStoreOptions struct {
		PageSize int    `mapstructure:"page_size"`
		Capacity uint64 `mapstructure:"capacity"`
		MaxFiles uint64 `mapstructure:"max_files"`
	}

	var storeOpts MemoryStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode memory store options: %w", err)
	}

	return tidememory.NewConnection(tidememory.Options{
		PageSize: storeOpts.PageSize,
		Capacity: storeOpts.Capacity,
		MaxFiles: storeOpts.MaxFiles,
	}), nil
}

// createBadgerStore creates the BadgerDB node store with its content
// backend.
func createBadgerStore(ctx context.Context, cfg *Config, storeMetrics metrics.StoreMetrics) (tide.Connection, error) {
	type BadgerStoreOptions struct {
		Dir      string `mapstructure:"dir"`
		InMemory bool   `mapstructure:"in_memory"`
		PageSize int    `mapstructure:"page_size"`
		Capacity uint64 `mapstructure:"capacity"`
		MaxFiles uint64 `mapstructure:"max_files"`
	}

	var storeOpts BadgerStoreOptions
	if err := mapstructure.Decode(cfg.Store.Badger, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode badger store options: %w", err)
	}

	if storeOpts.Dir == "" && !storeOpts.InMemory {
		return nil, fmt.Errorf("badger store: dir is required")
	}

	contentStore, err := CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return nil, err
	}

	store, err := tidebadger.Open(ctx, tidebadger.Config{
		Dir:      storeOpts.Dir,
		InMemory: storeOpts.InMemory,
		Content:  contentStore,
		Metrics:  storeMetrics,
		PageSize: storeOpts.PageSize,
		Capacity: storeOpts.Capacity,
		MaxFiles: storeOpts.MaxFiles,
	})
	if err != nil {
		// The content store is ours until the badger store takes it.
		if cerr := contentStore.Close(); cerr != nil {
			logger.Warn("closing content store after failed badger open: %v", cerr)
		}
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return store, nil
}

// CreateContentStore creates the payload store selected by cfg.Type.
//
// Supported types:
//   - "memory": pkg/tide/content/memory (in-process, ephemeral)
//   - "s3": pkg/tide/content/s3 (Amazon S3 or compatible endpoint)
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryContentStore(ctx, cfg.Memory)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: memory, s3)", cfg.Type)
	}
}

// createMemoryContentStore creates an in-process content store.
func createMemoryContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemoryContentStoreOptions struct {
		Capacity uint64 `mapstructure:"capacity"`
	}

	var storeOpts MemoryContentStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode memory content store options: %w", err)
	}

	return contentmemory.New(contentmemory.Options{Capacity: storeOpts.Capacity}), nil
}

// createS3ContentStore creates an S3-backed content store, wiring AWS
// credentials, a custom endpoint (MinIO, Localstack) and retry behavior
// from the options map.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3ContentStoreOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeOpts S3ContentStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode s3 content store options: %w", err)
	}

	if storeOpts.Bucket == "" {
		return nil, fmt.Errorf("s3 content store: bucket is required")
	}
	if storeOpts.Region == "" {
		return nil, fmt.Errorf("s3 content store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeOpts.Region))

	if storeOpts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeOpts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if storeOpts.AccessKeyID != "" && storeOpts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeOpts.AccessKeyID,
			storeOpts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeOpts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility.
		if storeOpts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := contents3.New(ctx, contents3.Config{
		Client:    client,
		Bucket:    storeOpts.Bucket,
		KeyPrefix: storeOpts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 content store: %w", err)
	}

	logger.Info("s3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeOpts.Bucket, storeOpts.Region, storeOpts.KeyPrefix)

	return store, nil
}

// CreateGateway wraps conn in a protocol gateway configured from cfg.
// adapterMetrics may be nil.
func CreateGateway(conn tide.Connection, cfg *Config, adapterMetrics metrics.AdapterMetrics) *adapter.Gateway {
	limits := vfs.DefaultFSLimits()
	if cfg.Gateway.MaxReadSize != 0 {
		limits.MaxReadSize = cfg.Gateway.MaxReadSize
	}
	if cfg.Gateway.MaxWriteSize != 0 {
		limits.MaxWriteSize = cfg.Gateway.MaxWriteSize
	}

	return adapter.NewGateway(conn, adapter.Options{
		Metrics: adapterMetrics,
		Umask:   cfg.Gateway.Umask,
		Limits:  &limits,
	})
}

// MountExports mounts every configured export through the gateway and
// returns them in configuration order. The pool strings were validated as
// UUIDs with the config, so a parse failure here means the config was
// edited since.
func MountExports(ctx context.Context, gw *adapter.Gateway, exports []ExportConfig) ([]*adapter.Export, error) {
	mounted := make([]*adapter.Export, 0, len(exports))
	for i, export := range exports {
		pool, err := uuid.Parse(export.Pool)
		if err != nil {
			return mounted, fmt.Errorf("exports[%d]: invalid pool %q: %w", i, export.Pool, err)
		}

		spec := tide.MountSpec{
			Cluster: export.Cluster,
			Pool:    pool,
			Volume:  export.Volume,
		}
		e, err := gw.Mount(ctx, spec)
		if err != nil {
			return mounted, fmt.Errorf("exports[%d]: failed to mount %s/%s: %w",
				i, export.Pool, export.Volume, err)
		}
		mounted = append(mounted, e)
	}
	return mounted, nil
}
