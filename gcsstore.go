package zarrutils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const GCSStoreType = "GCSStore"

// GCSConfig configures a Google Cloud Storage store. Credentials come from
// application default credentials unless Anonymous is set.
type GCSConfig struct {
	Bucket    string
	Prefix    string
	Anonymous bool
}

// GCSStore reads and writes keys below Prefix in a GCS bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

func (s *GCSStore) Type() string { return GCSStoreType }

func (s *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", key, err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, val io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(s.prefix + key).NewWriter(ctx)
	w.ContentType = contentType(key)
	if _, err := io.Copy(w, val); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix + normalizePrefix(prefix)
	seen := map[string]struct{}{}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix:    full,
		Delimiter: "/",
	})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", full, err)
		}
		if attrs.Prefix != "" {
			addChild(seen, full, attrs.Prefix)
		} else {
			addChild(seen, full, attrs.Name)
		}
	}
	return sortedKeys(seen), nil
}

// Close closes the GCS client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
