package zarrutils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// AccessorOptions configures NewAccessor
type AccessorOptions struct {
	// Format forces a format generation. FormatAuto detects it once from the
	// store root.
	Format Format
	Logger *slog.Logger
}

// Accessor gives every component the same get/contains/list view of a
// store and resolves metadata key names for the store's format generation.
// The format is fixed when the Accessor is built.
type Accessor struct {
	store  Store
	format Format
	logger *slog.Logger
}

// NewAccessor wraps s. With FormatAuto the root is listed once to detect
// the format; a root that can't be listed falls back to v2 and is reported
// by whichever operation runs next.
func NewAccessor(ctx context.Context, s Store, opts AccessorOptions) *Accessor {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	a := &Accessor{store: s, format: opts.Format, logger: logger}
	if a.format == FormatAuto {
		f, err := DetectFormat(ctx, s)
		if err != nil {
			logger.Debug("format detection failed, assuming v2", "store", s.Type(), "err", err)
			f = FormatV2
		}
		a.format = f
	}
	return a
}

func (a *Accessor) Store() Store { return a.store }

func (a *Accessor) Format() Format { return a.format }

func (a *Accessor) Logger() *slog.Logger { return a.logger }

// Reachable checks that the store root can be enumerated
func (a *Accessor) Reachable(ctx context.Context) error {
	if _, err := a.store.List(ctx, ""); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnreachable, err)
	}
	return nil
}

// Contains reports whether key exists without reading its payload. Any
// lookup error counts as absent.
func (a *Accessor) Contains(ctx context.Context, key string) bool {
	rc, err := a.store.Get(ctx, key)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

// Get returns the payload at key. A missing key is (nil, false, nil); any
// other failure wraps ErrIOFailure.
func (a *Accessor) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rc, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrIOFailure, key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrIOFailure, key, err)
	}
	return data, true, nil
}

// Put writes a single key
func (a *Accessor) Put(ctx context.Context, key string, data []byte) error {
	if err := a.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIOFailure, key, err)
	}
	return nil
}

// ListChildren returns the immediate child names below the node at p
func (a *Accessor) ListChildren(ctx context.Context, p string) ([]string, error) {
	names, err := a.store.List(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %q: %w", ErrIOFailure, p, err)
	}
	return names, nil
}

// ConsolidatedKey is the key consolidated metadata lives in: .zmetadata
// for v2, the root zarr.json for v3
func (a *Accessor) ConsolidatedKey() string {
	if a.format == FormatV3 {
		return string(MTNode)
	}
	return string(MTMetadata)
}

// ArrayMetaKey returns the key holding array metadata for path p
func (a *Accessor) ArrayMetaKey(p string) string {
	if a.format == FormatV3 {
		return joinKey(p, string(MTNode))
	}
	return joinKey(p, string(MTArray))
}

// GroupMetaKey returns the key holding group metadata for path p
func (a *Accessor) GroupMetaKey(p string) string {
	if a.format == FormatV3 {
		return joinKey(p, string(MTNode))
	}
	return joinKey(p, string(MTGroup))
}

// Attributes reads the attributes of the group or array at p
func (a *Accessor) Attributes(ctx context.Context, p string) (Attributes, error) {
	p = NormalizePath(p)
	n, err := storeHierarchy{a}.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: no node at %q", ErrNotFound, displayPath(p))
	}
	return nodeAttributes(a.format, n)
}

// SetAttributes replaces the attributes of the node at p. For v3 the node's
// zarr.json is rewritten with every other field preserved.
func (a *Accessor) SetAttributes(ctx context.Context, p string, attrs Attributes) error {
	p = NormalizePath(p)
	if a.format != FormatV3 {
		data, err := encodeJSON(attrs)
		if err != nil {
			return err
		}
		return a.Put(ctx, joinKey(p, string(MTAttributes)), data)
	}

	key := joinKey(p, string(MTNode))
	raw, ok, err := a.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrMetadataCorrupt, key, err)
	}
	enc, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	fields["attributes"] = enc
	data, err := encodeJSON(fields)
	if err != nil {
		return err
	}
	return a.Put(ctx, key, data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
