// Package bootstrap builds the storage gateway from a validated
// configuration. Both the server and the operator CLI start here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediashelf/mediashelf/internal/config"
	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/storage"
)

// OpenBackend constructs the configured storage backend. The signer is nil
// for backends that cannot mint presigned URLs.
func OpenBackend(ctx context.Context, cfg *config.Config) (storage.ObjectStore, storage.URLSigner, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "s3":
		clientCfg := sc.S3.ClientConfig()
		if err := clientCfg.Validate(); err != nil {
			return nil, nil, err
		}
		factory := storage.NewClientFactory(clientCfg)
		b := storage.NewS3Backend(sc.S3.Bucket, sc.Prefix, factory)
		if sc.S3.PartSize > 0 {
			b.PartSize = int64(sc.S3.PartSize)
		}
		if sc.S3.Concurrency > 0 {
			b.Concurrency = sc.S3.Concurrency
		}
		b.ReadTimeout = sc.S3.ReadTimeout
		slog.Info("Storage backend initialized",
			"backend", "s3",
			"bucket", sc.S3.Bucket,
			"prefix", sc.Prefix,
			"clients", factory.String(),
		)
		return b, b, nil

	case "gcs":
		b, err := storage.NewGCSBackend(ctx, sc.GCS.Bucket, sc.Prefix, storage.GCSOptions{
			Endpoint:        sc.GCS.Endpoint,
			CredentialsFile: sc.GCS.CredentialsFile,
			Anonymous:       sc.GCS.Anonymous,
			ConnectTimeout:  sc.GCS.ConnectTimeout,
			ResponseTimeout: sc.GCS.ReadTimeout,
			MaxAttempts:     sc.GCS.MaxAttempts,
		})
		if err != nil {
			return nil, nil, err
		}
		if sc.GCS.ChunkSize > 0 {
			b.ChunkSize = int(sc.GCS.ChunkSize)
		}
		b.ReadTimeout = sc.GCS.ReadTimeout
		return b, b, nil

	case "azure":
		accountURL := sc.Azure.AccountURL
		if accountURL == "" && sc.Azure.AccountName != "" {
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", sc.Azure.AccountName)
		}
		b, err := storage.NewAzureBackend(sc.Azure.Container, sc.Prefix, storage.AzureOptions{
			AccountURL:         accountURL,
			ConnectionString:   sc.Azure.ConnectionString,
			AccountName:        sc.Azure.AccountName,
			AccountKey:         sc.Azure.AccountKey,
			UseManagedIdentity: sc.Azure.UseManagedIdentity,
			ConnectTimeout:     sc.Azure.ConnectTimeout,
			ResponseTimeout:    sc.Azure.ReadTimeout,
			MaxAttempts:        sc.Azure.MaxAttempts,
		})
		if err != nil {
			return nil, nil, err
		}
		if sc.Azure.BlockSize > 0 {
			b.BlockSize = int64(sc.Azure.BlockSize)
		}
		if sc.Azure.Concurrency > 0 {
			b.Concurrency = sc.Azure.Concurrency
		}
		b.ReadTimeout = sc.Azure.ReadTimeout
		return b, b, nil

	case "memory":
		slog.Warn("Using the in-memory storage backend; objects are lost on restart",
			"max_size", sc.Memory.MaxSize.String())
		return storage.NewMemoryBackend(int64(sc.Memory.MaxSize)), nil, nil
	}
	return nil, nil, gwerr.ErrConfiguration.WithMessage("unknown storage backend %q", sc.Backend)
}

// NewGateway opens the configured backend and wraps it in a Gateway.
func NewGateway(ctx context.Context, cfg *config.Config) (*gateway.Gateway, error) {
	store, signer, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return gateway.New(store, signer, gateway.Options{
		MaxSizes:          cfg.MaxSizes(),
		PresignDefaultTTL: cfg.Presign.DefaultTTL,
		PresignMaxTTL:     cfg.Presign.MaxTTL,
	})
}
