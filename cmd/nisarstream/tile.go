package main

import (
	"context"
	"fmt"
	"math"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/nisar"
	"github.com/nisar-gcov/streamer/tileservice"
)

// TileCmd fetches a single tile against one covariance term dataset and
// prints basic sample statistics, the CLI surface for getTile.
type TileCmd struct {
	Path      string  `arg:"" help:"Local path, https:// URL, or s3://bucket/key of the GCOV .h5 product."`
	Frequency string  `help:"Frequency letter (A or B); defaults to the first resolved frequency." default:""`
	Term      string  `help:"Covariance term (e.g. HHHH); defaults to the first resolved term." default:""`
	TileX     int     `help:"Tile column." default:"0"`
	TileY     int     `help:"Tile row." default:"0"`
	Zoom      int     `help:"Zoom level, informational only." default:"0"`
	MinX      float64 `help:"BBox min X, in pixel or world coordinates." default:"0"`
	MinY      float64 `help:"BBox min Y." default:"0"`
	MaxX      float64 `help:"BBox max X." default:"256"`
	MaxY      float64 `help:"BBox max Y." default:"256"`
	MultiLook bool    `help:"Average an NxN neighborhood in linear power space instead of nearest-neighbor."`
	Mmap      bool    `help:"Memory-map local files instead of using pread." name:"mmap"`
}

func (c *TileCmd) Run(rc *runContext) error {
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

	term := c.Term
	if term == "" {
		if len(fs.CovarianceTerms) == 0 {
			return fmt.Errorf("no covariance terms resolved for frequency %s", freq)
		}
		term = fs.CovarianceTerms[0]
	}
	path, ok := fs.CovariancePaths[term]
	if !ok {
		return fmt.Errorf("term %s not found in frequency %s", term, freq)
	}

	ds, ok := resolver.Catalog()[path]
	if !ok {
		return fmt.Errorf("dataset %s missing from catalog", path)
	}

	layout, err := ds.ChunkLayout()
	if err != nil {
		return fmt.Errorf("reading chunk layout for %s: %w", path, err)
	}

	engine := chunkio.New(ds.FileSource(), layout, chunkio.WithLogger(rc.logger))
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	engine.Start(engineCtx)
	defer engine.Close()

	svc := tileservice.New(engine, fs.WorldBound(), fs.HasBounds, tileservice.WithLogger(rc.logger))
	defer svc.Close()

	tile, err := svc.GetTile(ctx, tileservice.TileRequest{
		TileX: c.TileX, TileY: c.TileY, Zoom: c.Zoom,
		BBox:      tileservice.Box{MinX: c.MinX, MinY: c.MinY, MaxX: c.MaxX, MaxY: c.MaxY},
		MultiLook: c.MultiLook,
	})
	if err != nil {
		return fmt.Errorf("getting tile: %w", err)
	}
	if tile == nil {
		fmt.Println("tile: out of bounds (None)")
		return nil
	}

	min, max, mean, valid := summarize(tile.Data)
	fmt.Printf("tile %dx%d  term=%s  valid=%d/%d  min=%.6g max=%.6g mean=%.6g\n",
		tile.Width, tile.Height, term, valid, len(tile.Data), min, max, mean)
	return nil
}

func summarize(data []float32) (min, max, mean float64, valid int) {
	min = math.Inf(1)
	max = math.Inf(-1)
	var sum float64
	for _, v := range data {
		fv := float64(v)
		if math.IsNaN(fv) || fv <= 0 {
			continue
		}
		if fv < min {
			min = fv
		}
		if fv > max {
			max = fv
		}
		sum += fv
		valid++
	}
	if valid == 0 {
		return 0, 0, 0, 0
	}
	return min, max, sum / float64(valid), valid
}
