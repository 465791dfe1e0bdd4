package artifacts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/abraham-ai/mintmodifier/pkg/util/resiliency"
)

// Backend selects where artifacts are published.
type Backend string

const (
	BackendPinata Backend = "pinata"
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
)

// Config selects and configures a publishing backend.
type Config struct {
	Backend Backend
	// Gateway is the public host serving published content. For Pinata it
	// defaults to gateway.pinata.cloud.
	Gateway string
	MaxSize int64

	DataDir string // fs backend: blobs live under DataDir/artifacts
	S3      S3StoreConfig
	GCS     GCSStoreConfig
	Pinata  PinataConfig
}

// GCSStoreConfig holds configuration for GCSStore. It is available in every
// build so configuration can name the backend; the store itself needs -tags gcp.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional object prefix
}

// NewPublisher builds the Publisher selected by cfg.Backend (pinata when empty).
func NewPublisher(ctx context.Context, cfg Config, opts ...resiliency.Option) (Publisher, error) {
	switch cfg.Backend {
	case "", BackendPinata:
		pc := cfg.Pinata
		if pc.Gateway == "" {
			pc.Gateway = cfg.Gateway
		}
		if pc.MaxSize == 0 {
			pc.MaxSize = cfg.MaxSize
		}
		if pc.JWT == "" && (pc.APIKey == "" || pc.APISecret == "") {
			return nil, fmt.Errorf("pinata backend requires a JWT or an API key and secret")
		}
		return NewPinataPublisher(pc, opts...), nil
	case BackendFS, BackendS3, BackendGCS:
		store, err := NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Gateway == "" {
			return nil, fmt.Errorf("%s backend requires a gateway", cfg.Backend)
		}
		return NewCASPublisher(store, cfg.Gateway, cfg.MaxSize), nil
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Backend)
	}
}

// NewStore builds the CAS Store for the fs, s3 and gcs backends.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		s3cfg := cfg.S3
		if s3cfg.Region == "" {
			s3cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, s3cfg)
	case BackendGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Backend)
	}
}
