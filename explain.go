package zarrutils

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
)

const (
	explainConsolidated = "Consolidated metadata is missing or unreadable. " +
		"Run `zarr-utils consolidate` on the store to create it; remote stores are much slower without it."
	explainPermission = "Permission denied while accessing the store. " +
		"Check file permissions, or the credentials and bucket policy for remote stores " +
		"(use --anonymous for public buckets)."
	explainNotFound = "The store could not be found. " +
		"Check the path or URL, and that the bucket and prefix exist."
	explainNotZarr = "The location exists but holds no zarr group or array metadata. " +
		"Check that the path points at the root of a zarr store."
	explainCodec = "A chunk could not be decoded with its compressor. " +
		"The codec may be unsupported here or the chunk may be damaged; supported codecs are zstd, gzip, zlib and lz4."
	explainShape = "An array's shape and chunk shape disagree. " +
		"The array metadata must be rewritten with a chunk shape of the same rank and positive dimensions."
	explainConnection = "Could not connect to the store. " +
		"Check network access, the endpoint URL and any proxy settings, then retry."
	explainArrayNotFound = "The requested path is not an array in this store. " +
		"Use `zarr-utils inspect` to list the arrays it contains."
	explainCorrupt = "Some metadata in the store is not valid JSON. " +
		"Restore or rewrite the damaged key, then run `zarr-utils repair`."
)

// Explain maps an error to a human-readable explanation with a suggested
// next step. Unrecognised errors get a generic message that includes the
// error text. Explain never panics and accepts nil.
func Explain(err error) string {
	if err == nil {
		return "No error."
	}
	msg := strings.ToLower(err.Error())
	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	switch {
	case errors.Is(err, fs.ErrPermission) || containsAny("permission denied", "accessdenied", "access denied", "forbidden", "error 403", "statuscode: 403"):
		return explainPermission
	case errors.Is(err, ErrUnsupportedCodec) || containsAny("codec", "decompress", "compressor"):
		return explainCodec
	case containsAny("consolidated", string(MTMetadata)):
		return explainConsolidated
	case errors.Is(err, ErrArrayNotFound):
		return explainArrayNotFound
	case errors.Is(err, ErrNotZarr):
		return explainNotZarr
	case errors.Is(err, ErrMetadataCorrupt):
		return explainCorrupt
	case containsAny("shape") && containsAny("mismatch", "dimension", "rank"):
		return explainShape
	case errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) ||
		containsAny("connection refused", "connection reset", "no such host", "dial tcp", "timeout", "i/o timeout"):
		return explainConnection
	case errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrStoreUnreachable) ||
		containsAny("no such file", "not found", "nosuchbucket", "does not exist"):
		return explainNotFound
	}
	return fmt.Sprintf("Unexpected error: %s. Run `zarr-utils diagnose --detailed` for more information.", err)
}
