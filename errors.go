package zarrutils

import "errors"

var (
	// ErrNotFound is returned by Store implementations when a key does not exist
	ErrNotFound = errors.New("not found")
	// ErrStoreUnreachable means the store root cannot be opened or listed
	ErrStoreUnreachable = errors.New("store unreachable")
	// ErrArrayNotFound means a requested path does not resolve to an array
	ErrArrayNotFound = errors.New("array not found")
	// ErrIOFailure wraps a read or write error against a single store key.
	// It is never retried.
	ErrIOFailure = errors.New("store i/o failure")
	// ErrMetadataCorrupt means a metadata payload is not valid JSON
	ErrMetadataCorrupt = errors.New("metadata corrupt")
	// ErrUnrepairable marks validation issues that have no automatic fix
	ErrUnrepairable = errors.New("unrepairable issue")
	// ErrRootNotGroup means consolidated metadata was asked of a v3 store
	// whose root node is an array
	ErrRootNotGroup = errors.New("store root is not a group")
	// ErrUnsupportedCodec is returned when a chunk codec id is unknown
	ErrUnsupportedCodec = errors.New("unsupported codec")
)
