package zarrutils

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// StoreOptions carries the settings OpenStore hands to remote store clients
type StoreOptions struct {
	// Anonymous skips credential lookup for public buckets
	Anonymous bool
	// Region for S3 stores
	Region string
	// Endpoint selects an S3-compatible server instead of AWS for s3:// URLs
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// CacheSize > 0 wraps remote stores in a CachedStore holding that many
	// metadata payloads
	CacheSize int
}

// OpenStore resolves a locator to a Store:
//
//	s3://bucket/prefix    S3 (or an S3-compatible endpoint when Endpoint is set)
//	gs://bucket/prefix    Google Cloud Storage
//	memory://             a fresh MemoryStore
//	file:///path, path    LocalStore
func OpenStore(ctx context.Context, locator string, opts StoreOptions) (Store, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, fmt.Errorf("store locator is required")
	}
	if !strings.Contains(locator, "://") {
		return NewLocalStore(locator)
	}

	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid store locator %q: %w", locator, err)
	}

	var s Store
	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if opts.Endpoint != "" {
			s, err = NewMinioStore(MinioConfig{
				Endpoint:  opts.Endpoint,
				Region:    opts.Region,
				AccessKey: opts.AccessKey,
				SecretKey: opts.SecretKey,
				Bucket:    u.Host,
				Prefix:    u.Path,
				UseSSL:    opts.UseSSL,
			})
		} else {
			s, err = NewS3Store(ctx, S3Config{
				Bucket:    u.Host,
				Prefix:    u.Path,
				Region:    opts.Region,
				Anonymous: opts.Anonymous,
			})
		}
	case "gs", "gcs":
		s, err = NewGCSStore(ctx, GCSConfig{
			Bucket:    u.Host,
			Prefix:    u.Path,
			Anonymous: opts.Anonymous,
		})
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		return NewCachedStore(s, opts.CacheSize)
	}
	return s, nil
}

// IsRemote reports whether a store talks to a network service
func IsRemote(s Store) bool {
	switch s.Type() {
	case MemoryStoreType, LocalStoreType:
		return false
	default:
		return true
	}
}
