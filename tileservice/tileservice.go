// Package tileservice turns viewport requests into fixed-size raster
// tiles: it classifies a bbox as world or pixel coordinates, picks a
// direct region read or a chunk-sampled box-filter path depending on
// region size, resamples in linear power space, and serves progressively
// refined tiles backed by the chunk I/O engine's cache.
package tileservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/internal/lru"
	"github.com/nisar-gcov/streamer/internal/message"
	"github.com/nisar-gcov/streamer/internal/xmetrics"
	"github.com/nisar-gcov/streamer/region"
)

// DefaultTileSize is the output tile edge length in pixels.
const DefaultTileSize = 256

// directPathMaxPixels is the sliceW*sliceH threshold at or below which GetTile
// reads the exact requested rectangle directly instead of chunk-sampling.
const directPathMaxPixels = 1_000_000

// BBoxKind tells the caller which coordinate space a request's bbox was
// interpreted as, the observable side effect of the world/pixel auto-detect.
type BBoxKind int

const (
	BBoxAuto BBoxKind = iota
	BBoxWorld
	BBoxPixel
)

// Box is a rectangle in either world or pixel coordinates, auto-detected
// against the image dimensions per spec §4.6: an extent exceeding 2x the
// corresponding image dimension is treated as world, otherwise pixel.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// TileRequest is the input to GetTile.
type TileRequest struct {
	TileX, TileY, Zoom int
	BBox               Box
	MultiLook          bool
}

// TileKey identifies a cached tile.
type TileKey struct {
	TileX, TileY, Zoom int
	MultiLook          bool
}

// Tile is the output of GetTile: a dense float32 power buffer plus an
// optional nearest-neighbor-sampled mask of the same shape.
type Tile struct {
	Data   []float32
	Width  int
	Height int
	Mask   []byte // nil if the dataset has no mask
}

// Stats is a snapshot of tile-service activity for diagnostics/metrics.
type Stats struct {
	TileCacheEntries int
	TileCacheHits    int64
	TileCacheMisses  int64
	RefinesScheduled int64
	RefinesCompleted int64
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tileSize     int
	tileCacheCap int
	logger       *zap.Logger
	metrics      *xmetrics.Metrics
}

func defaultOptions() *options {
	return &options{
		tileSize:     DefaultTileSize,
		tileCacheCap: 150,
		logger:       zap.NewNop(),
		metrics:      xmetrics.NewNoop(),
	}
}

// WithTileSize overrides the default 256x256 output tile size.
func WithTileSize(n int) Option { return func(o *options) { o.tileSize = n } }

// WithTileCacheCap bounds the tile LRU (spec §4.6: typical 100-200 tiles).
func WithTileCacheCap(n int) Option { return func(o *options) { o.tileCacheCap = n } }

// WithLogger attaches a zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches a prometheus metrics set.
func WithMetrics(m *xmetrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Service serves tiles for one dataset, backed by an already-started
// chunkio.Engine. An optional mask engine adds a per-tile mask layer.
type Service struct {
	engine     *chunkio.Engine
	region     *region.Reader
	maskEngine *chunkio.Engine
	maskRegion *region.Reader
	datatype   *message.Datatype

	dims      []uint64
	chunkDims []uint32
	worldOK   bool
	world     orb.Bound

	opts *options

	mu        sync.Mutex
	tileCache *lru.Cache[TileKey, *Tile]
	stats     Stats
	onRefine  func(TileKey)

	refineCtx    context.Context
	refineCancel context.CancelFunc
	refineWG     sync.WaitGroup
}

// New builds a Service over an already-started chunk engine. worldBound
// is the frequency's resolved world bounds (nisar.FrequencyStructure.WorldBound);
// pass hasWorld=false when bounds could not be resolved, forcing every bbox
// to be treated as pixel coordinates.
func New(engine *chunkio.Engine, worldBound orb.Bound, hasWorld bool, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		engine:       engine,
		region:       region.NewReader(engine),
		datatype:     engine.Datatype(),
		dims:         engine.Dims(),
		chunkDims:    engine.ChunkDims(),
		world:        worldBound,
		worldOK:      hasWorld,
		opts:         o,
		tileCache:    lru.New[TileKey, *Tile](o.tileCacheCap, func(*Tile) int { return 1 }),
		refineCtx:    ctx,
		refineCancel: cancel,
	}
	return s
}

// WithMask attaches a mask dataset's chunk engine. Returns s for chaining.
func (s *Service) WithMask(maskEngine *chunkio.Engine) *Service {
	s.maskEngine = maskEngine
	s.maskRegion = region.NewReader(maskEngine)
	return s
}

// OnRefine registers a callback invoked when a phase-2 refinement tile
// finishes and replaces the coarse tile in the cache.
func (s *Service) OnRefine(fn func(TileKey)) {
	s.mu.Lock()
	s.onRefine = fn
	s.mu.Unlock()
}

// Close stops scheduling new background refinements. Chunk reads already
// in flight still run to completion and populate the chunk cache — this
// does not contradict spec §5's no-per-chunk-cancellation rule, it only
// stops new phase-2 work from being scheduled.
func (s *Service) Close() error {
	s.refineCancel()
	s.refineWG.Wait()
	return nil
}

// Stats returns a snapshot of tile-cache and refinement counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.TileCacheEntries = s.tileCache.Len()
	return st
}

func (s *Service) imageWidth() uint64  { return s.dims[len(s.dims)-1] }
func (s *Service) imageHeight() uint64 { return s.dims[0] }

// GetTile resolves req into a Tile, or (nil, nil) when the request falls
// entirely outside the image or resolves to an empty clipped region.
func (s *Service) GetTile(ctx context.Context, req TileRequest) (*Tile, error) {
	key := TileKey{TileX: req.TileX, TileY: req.TileY, Zoom: req.Zoom, MultiLook: req.MultiLook}

	s.mu.Lock()
	if cached, ok := s.tileCache.Get(key); ok {
		s.stats.TileCacheHits++
		s.mu.Unlock()
		return cached, nil
	}
	s.stats.TileCacheMisses++
	s.mu.Unlock()

	px, err := s.toPixelBox(req.BBox)
	if err != nil {
		return nil, err
	}
	px, ok := clipBox(px, s.imageWidth(), s.imageHeight())
	if !ok {
		return nil, nil
	}

	sliceW := px.MaxX - px.MinX
	sliceH := px.MaxY - px.MinY

	var tile *Tile
	if sliceW*sliceH <= directPathMaxPixels {
		tile, err = s.directTile(ctx, px, req.MultiLook)
	} else {
		tile, err = s.chunkSampledTile(ctx, px, req.MultiLook, key)
	}
	if err != nil {
		return nil, err
	}
	if tile == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.tileCache.Put(key, tile)
	s.opts.metrics.CacheEntries.Set(float64(s.tileCache.Len()))
	s.mu.Unlock()

	return tile, nil
}

// pixelBox is a clipped, integer pixel-space rectangle [MinX,MaxX) x [MinY,MaxY).
type pixelBox struct {
	MinX, MinY, MaxX, MaxY int64
}

// toPixelBox classifies req's bbox as world or pixel per spec §4.6's
// extent-vs-2x-image-dimension heuristic, then maps it to pixel space
// applying the Y-axis flip (world/viewer Y-up vs. raster Y-down).
func (s *Service) toPixelBox(b Box) (pixelBox, error) {
	w := float64(s.imageWidth())
	h := float64(s.imageHeight())

	extentX := b.MaxX - b.MinX
	extentY := b.MaxY - b.MinY
	isWorld := s.worldOK && (extentX > 2*w || extentY > 2*h)

	if !isWorld {
		return pixelBox{
			MinX: int64(b.MinX), MaxX: int64(b.MaxX),
			MinY: int64(h) - int64(b.MaxY), MaxY: int64(h) - int64(b.MinY),
		}, nil
	}

	worldW := s.world.Max[0] - s.world.Min[0]
	worldH := s.world.Max[1] - s.world.Min[1]
	if worldW == 0 || worldH == 0 {
		return pixelBox{}, fmt.Errorf("tileservice: world bounds degenerate, cannot map bbox")
	}

	toPxX := func(x float64) int64 { return int64((x - s.world.Min[0]) / worldW * w) }
	toPxYFlip := func(y float64) int64 { return int64(h - (y-s.world.Min[1])/worldH*h) }

	minX := toPxX(b.MinX)
	maxX := toPxX(b.MaxX)
	// World Y increases upward; larger world Y maps to smaller pixel row.
	minY := toPxYFlip(b.MaxY)
	maxY := toPxYFlip(b.MinY)

	return pixelBox{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}, nil
}

func clipBox(b pixelBox, width, height uint64) (pixelBox, bool) {
	if b.MinX < 0 {
		b.MinX = 0
	}
	if b.MinY < 0 {
		b.MinY = 0
	}
	if b.MaxX > int64(width) {
		b.MaxX = int64(width)
	}
	if b.MaxY > int64(height) {
		b.MaxY = int64(height)
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return pixelBox{}, false
	}
	return b, true
}

// validSample reports whether v counts toward a power average: NaN and
// non-positive values are excluded per spec §4.6.
func validSample(v float32) bool {
	return !isNaN32(v) && v > 0
}

func isNaN32(v float32) bool { return v != v }
