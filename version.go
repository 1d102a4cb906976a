package zarrutils

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// Version is the current version of this library.
	Version = "1.1.6"
)

// Format is the storage-format generation of a zarr store. Every component
// that needs to branch between v2 and v3 layouts takes a Format instead of
// probing the store itself.
type Format int

const (
	// FormatAuto asks NewAccessor to detect the format from the store root
	FormatAuto Format = iota
	// FormatV2 stores metadata in .zgroup / .zarray / .zattrs keys and
	// consolidates into .zmetadata
	FormatV2
	// FormatV3 stores metadata in one zarr.json per node and consolidates
	// inline into the root zarr.json
	FormatV3
)

func (f Format) String() string {
	switch f {
	case FormatV2:
		return "v2"
	case FormatV3:
		return "v3"
	default:
		return "auto"
	}
}

// ParseFormat accepts "auto", "", "v2", "v3" or any semantic version string
// ("2", "2.18.4", "3.0.0-beta") and maps it to a Format by major version
func ParseFormat(s string) (Format, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "auto":
		return FormatAuto, nil
	}

	v, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return FormatAuto, fmt.Errorf("invalid zarr format version %q: %w", s, err)
	}
	switch v.Major() {
	case 2:
		return FormatV2, nil
	case 3:
		return FormatV3, nil
	default:
		return FormatAuto, fmt.Errorf("unsupported zarr format version %q", s)
	}
}

// DetectFormat inspects the store root and reports which format generation
// it uses. A root that lists but carries no metadata defaults to v2.
// A root that cannot be listed yields ErrStoreUnreachable.
func DetectFormat(ctx context.Context, s Store) (Format, error) {
	names, err := s.List(ctx, "")
	if err != nil {
		return FormatAuto, fmt.Errorf("%w: %s", ErrStoreUnreachable, err)
	}

	for _, name := range names {
		if name == string(MTNode) {
			return FormatV3, nil
		}
	}
	return FormatV2, nil
}
