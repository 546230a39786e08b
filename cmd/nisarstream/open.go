package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/hdf5"
)

// openProduct opens loc as a local path, an https:// URL, or an s3://
// bucket/key reference, picking the matching hdf5.File constructor. mmap
// only takes effect for local paths; remote sources have no file
// descriptor to map and silently ignore it.
func openProduct(ctx context.Context, loc string, logger *zap.Logger, mmap bool) (*hdf5.File, error) {
	switch {
	case strings.HasPrefix(loc, "s3://"):
		rest := strings.TrimPrefix(loc, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("nisarstream: malformed s3 location %q, want s3://bucket/key", loc)
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("nisarstream: loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(cfg)
		return hdf5.OpenS3(ctx, client, parts[0], parts[1], hdf5.WithLogger(logger))

	case strings.HasPrefix(loc, "https://"), strings.HasPrefix(loc, "http://"):
		return hdf5.OpenHTTP(ctx, loc, hdf5.WithLogger(logger))

	default:
		opts := []hdf5.OpenOption{hdf5.WithLogger(logger)}
		if mmap {
			opts = append(opts, hdf5.WithMmap())
		}
		return hdf5.Open(loc, opts...)
	}
}
