package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/nisar-gcov/streamer/nisar"
)

// InspectCmd prints the resolved band/frequency/polarization/projection
// structure of a GCOV product, the CLI surface for listDatasets-style
// catalog inspection.
type InspectCmd struct {
	Path string `arg:"" help:"Local path, https:// URL, or s3://bucket/key of the GCOV .h5 product."`
	Mmap bool   `help:"Memory-map local files instead of using pread." name:"mmap"`
}

func (c *InspectCmd) Run(rc *runContext) error {
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

	fmt.Printf("band: %s\n", product.Band)
	meta, err := resolver.Identification(product.Band)
	if err == nil {
		fmt.Printf("mission: %s  orbit: %d (%s)  track/frame: %d/%d\n",
			meta.MissionID, meta.AbsoluteOrbitNumber, meta.OrbitPassDirection,
			meta.TrackNumber, meta.FrameNumber)
	}

	for _, freq := range product.Frequencies {
		fs := product.PerFrequency[freq]
		if fs == nil {
			continue
		}
		fmt.Printf("\nfrequency %s:\n", freq)
		fmt.Printf("  covariance terms: %v\n", fs.CovarianceTerms)
		for _, term := range fs.CovarianceTerms {
			path, ok := fs.CovariancePaths[term]
			if !ok {
				continue
			}
			ds, ok := resolver.Catalog()[path]
			if !ok {
				continue
			}
			size := ds.NumElements() * uint64(ds.DtypeSize())
			fmt.Printf("    %s: %s uncompressed (%s elements)\n",
				term, humanize.Bytes(size), humanize.Comma(int64(ds.NumElements())))
		}
		fmt.Printf("  projection: EPSG:%d (source=%s, utm_zone=%d)\n",
			fs.ProjectionEPSG, fs.ProjectionSource, fs.UTMZone)
		if fs.HasBounds {
			fmt.Printf("  bounds: x=[%.3f, %.3f] y=[%.3f, %.3f] (tier %d)\n",
				fs.XMin, fs.XMax, fs.YMin, fs.YMax, fs.BoundsTier)
		} else {
			fmt.Printf("  bounds: unresolved\n")
		}
		if fs.HasSpacing {
			fmt.Printf("  spacing: x=%.6f y=%.6f\n", fs.XSpacing, fs.YSpacing)
		}
		if fs.HasMask {
			fmt.Printf("  mask: %s\n", fs.MaskDatasetPath)
		}
	}

	return nil
}
