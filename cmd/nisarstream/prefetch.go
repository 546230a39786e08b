package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/nisar"
	"github.com/nisar-gcov/streamer/tileservice"
)

// PrefetchCmd warms the overview chunk cache for every covariance term of
// one frequency, the CLI surface for prefetchOverviewChunks.
type PrefetchCmd struct {
	Path      string `arg:"" help:"Local path, https:// URL, or s3://bucket/key of the GCOV .h5 product."`
	Frequency string `help:"Frequency letter; defaults to the first resolved frequency." default:""`
	Mmap      bool   `help:"Memory-map local files instead of using pread." name:"mmap"`
}

func (c *PrefetchCmd) Run(rc *runContext) error {
	ctx := context.Background()

	f, err := openProduct(ctx, c.Path, rc.logger, c.Mmap)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Path, err)
	}
	defer f.Close()

	resolver, err := nisar.NewResolver(f, nisar.WithLogger(rc.logger))
	if err != nil {
		return fmt.Errorf("building resolver: %w", err)
	}
	product, err := resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolving product structure: %w", err)
	}

	freq := c.Frequency
	if freq == "" {
		if len(product.Frequencies) == 0 {
			return fmt.Errorf("no frequencies resolved")
		}
		freq = product.Frequencies[0]
	}
	fs, ok := product.PerFrequency[freq]
	if !ok {
		return fmt.Errorf("frequency %s not found", freq)
	}

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stdout.Fd()) {
		bar = progressbar.Default(int64(len(fs.CovarianceTerms)), "prefetching overview chunks")
	}

	var totalBytes int64
	for _, term := range fs.CovarianceTerms {
		path := fs.CovariancePaths[term]
		ds, ok := resolver.Catalog()[path]
		if !ok {
			continue
		}
		layout, err := ds.ChunkLayout()
		if err != nil {
			return fmt.Errorf("reading chunk layout for %s: %w", path, err)
		}

		engine := chunkio.New(ds.FileSource(), layout, chunkio.WithLogger(rc.logger))
		engineCtx, cancel := context.WithCancel(ctx)
		engine.Start(engineCtx)

		svc := tileservice.New(engine, fs.WorldBound(), fs.HasBounds, tileservice.WithLogger(rc.logger))
		err = svc.PrefetchOverviewChunks()
		totalBytes += engine.Stats().BytesFetched
		svc.Close()
		engine.Close()
		cancel()
		if err != nil {
			return fmt.Errorf("prefetching term %s: %w", term, err)
		}

		if bar != nil {
			bar.Add(1)
		}
	}

	fmt.Printf("prefetched overview chunks for %d terms in frequency %s (%s fetched)\n",
		len(fs.CovarianceTerms), freq, humanize.Bytes(uint64(totalBytes)))
	return nil
}
