package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/hdf5"
	"github.com/nisar-gcov/streamer/internal/xmetrics"
	"github.com/nisar-gcov/streamer/nisar"
	"github.com/nisar-gcov/streamer/tileservice"
)

// ServeCmd opens one product and serves its tiles over HTTP, CORS-enabled
// for direct browser consumption (spec §4.6/§6's tile service interface).
type ServeCmd struct {
	Path string `arg:"" help:"Local path, https:// URL, or s3://bucket/key of the GCOV .h5 product."`
	Addr string `help:"Listen address." default:":8080"`
	Mmap bool   `help:"Memory-map local files instead of using pread." name:"mmap"`
}

// tileServer holds one Service per (frequency, term) pair, lazily opened
// on first request so a product with many terms doesn't pay the cost of
// starting every chunk engine up front.
type tileServer struct {
	file     *hdf5.File
	resolver *nisar.Resolver
	product  *nisar.ProductStructure
	logger   *zap.Logger
	metrics  *xmetrics.Metrics

	services map[string]*tileservice.Service // key: freq+"/"+term
}

func (c *ServeCmd) Run(rc *runContext) error {
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

	ts := &tileServer{
		file:     f,
		resolver: resolver,
		product:  product,
		logger:   rc.logger,
		metrics:  xmetrics.New(prometheus.DefaultRegisterer, "nisarstream"),
		services: make(map[string]*tileservice.Service),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tile", ts.handleTile)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	rc.logger.Info("serving", zap.String("addr", c.Addr), zap.String("product", c.Path))
	return http.ListenAndServe(c.Addr, handler)
}

func (ts *tileServer) serviceFor(freq, term string) (*tileservice.Service, error) {
	key := freq + "/" + term
	if svc, ok := ts.services[key]; ok {
		return svc, nil
	}

	fs, ok := ts.product.PerFrequency[freq]
	if !ok {
		return nil, fmt.Errorf("frequency %s not found", freq)
	}
	path, ok := fs.CovariancePaths[term]
	if !ok {
		return nil, fmt.Errorf("term %s not found in frequency %s", term, freq)
	}
	ds, ok := ts.resolver.Catalog()[path]
	if !ok {
		return nil, fmt.Errorf("dataset %s missing from catalog", path)
	}

	layout, err := ds.ChunkLayout()
	if err != nil {
		return nil, fmt.Errorf("reading chunk layout for %s: %w", path, err)
	}

	engine := chunkio.New(ds.FileSource(), layout, chunkio.WithLogger(ts.logger), chunkio.WithMetrics(ts.metrics))
	engine.Start(context.Background())

	svc := tileservice.New(engine, fs.WorldBound(), fs.HasBounds,
		tileservice.WithLogger(ts.logger), tileservice.WithMetrics(ts.metrics))

	ts.services[key] = svc
	return svc, nil
}

func (ts *tileServer) handleTile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	freq := q.Get("freq")
	term := q.Get("term")
	if freq == "" || term == "" {
		http.Error(w, "freq and term are required", http.StatusBadRequest)
		return
	}

	svc, err := ts.serviceFor(freq, term)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	req := tileservice.TileRequest{
		TileX:     atoi(q.Get("tileX")),
		TileY:     atoi(q.Get("tileY")),
		Zoom:      atoi(q.Get("zoom")),
		MultiLook: q.Get("multiLook") == "true",
		BBox: tileservice.Box{
			MinX: atof(q.Get("minX")), MinY: atof(q.Get("minY")),
			MaxX: atof(q.Get("maxX")), MaxY: atof(q.Get("maxY")),
		},
	}

	tile, err := svc.GetTile(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tile == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Tile-Width", strconv.Itoa(tile.Width))
	w.Header().Set("X-Tile-Height", strconv.Itoa(tile.Height))
	buf := make([]byte, 4*len(tile.Data))
	for i, v := range tile.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	w.Write(buf)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
