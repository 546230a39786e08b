// Command nisarstream inspects, tiles, and serves NISAR GCOV HDF5 products
// without downloading them whole: it reads cloud-optimized chunk layouts
// directly off a local path, HTTP(S) URL or S3 object.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
)

var cli struct {
	Inspect  InspectCmd  `cmd:"" help:"Print the band/frequency/polarization structure of a GCOV product."`
	Tile     TileCmd     `cmd:"" help:"Fetch a single tile and report sample statistics."`
	Serve    ServeCmd    `cmd:"" help:"Serve tiles over HTTP with CORS enabled."`
	Prefetch PrefetchCmd `cmd:"" help:"Warm the overview chunk cache for a product."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("nisarstream"),
		kong.Description("Cloud-optimized reader and tile server for NISAR Level-2 GCOV products."),
		kong.UsageOnError(),
	)

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nisarstream: building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	err = ctx.Run(&runContext{logger: logger})
	ctx.FatalIfErrorf(err)
}

// runContext is passed to every subcommand's Run method via kong's bind
// mechanism, carrying shared dependencies.
type runContext struct {
	logger *zap.Logger
}
