package zarrutils

import (
	"bytes"
	"context"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore keeps recently read metadata payloads of a remote store in an
// LRU so repeated inspect/validate passes don't refetch every .zarray.
// Chunk keys are never cached. Writes through the cache replace the cached
// payload; writes made by other clients are not observed.
type CachedStore struct {
	Store
	cache *lru.Cache[string, []byte]
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(s Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating metadata cache: %w", err)
	}
	return &CachedStore{Store: s, cache: cache}, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if d, ok := s.cache.Get(key); ok {
		return io.NopCloser(bytes.NewReader(d)), nil
	}
	if _, ok := KeyMetaType(key); !ok {
		return s.Store.Get(ctx, key)
	}

	rc, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	d, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, d)
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *CachedStore) Put(ctx context.Context, key string, val io.Reader) error {
	if _, ok := KeyMetaType(key); !ok {
		return s.Store.Put(ctx, key, val)
	}
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}
	if err := s.Store.Put(ctx, key, bytes.NewReader(d)); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, d)
	return nil
}

// Purge drops every cached payload
func (s *CachedStore) Purge() {
	s.cache.Purge()
}
