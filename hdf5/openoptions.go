package hdf5

import (
	"net/http"

	"go.uber.org/zap"
)

// DefaultMetadataPrefetch is the number of bytes fetched from the front of
// the file when a File is opened (local or remote), matching the 8-32 MiB window
// recommended for HDF5's paged-aggregation layout.
const DefaultMetadataPrefetch = 16 << 20

// minMetadataPrefetch is the floor applied by WithMetadataPrefetch; below
// this even small superblocks plus a root object header rarely fit.
const minMetadataPrefetch = 64 << 10

// OpenOption configures File opening, in particular for the remote
// (HTTP/S3) entry points where there is no equivalent of a local os.File.
type OpenOption func(*openOptions)

type openOptions struct {
	prefetchBytes int64
	logger        *zap.Logger
	httpClient    HTTPClient
	mmap          bool
}

// HTTPClient is re-exported from bytesource so callers configuring
// OpenHTTP don't need to import the bytesource package directly.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultOpenOptions() *openOptions {
	return &openOptions{
		prefetchBytes: DefaultMetadataPrefetch,
		logger:        zap.NewNop(),
	}
}

// WithMetadataPrefetch sets the number of bytes fetched from the start of
// the file at open time. Object headers, dataspace/datatype/layout
// messages and small B-tree indices that live within this window resolve
// without any further network round trip.
func WithMetadataPrefetch(bytes int64) OpenOption {
	return func(o *openOptions) {
		if bytes >= minMetadataPrefetch {
			o.prefetchBytes = bytes
		}
	}
}

// WithLogger attaches a zap logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) OpenOption {
	return func(o *openOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient overrides the HTTP client used by OpenHTTP. Ignored by
// Open and OpenS3.
func WithHTTPClient(client HTTPClient) OpenOption {
	return func(o *openOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithMmap memory-maps the underlying file read-only instead of using
// pread for chunk and metadata I/O. Only meaningful for Open (local
// files); ignored by OpenHTTP and OpenS3, which have no local descriptor
// to map.
func WithMmap() OpenOption {
	return func(o *openOptions) {
		o.mmap = true
	}
}
