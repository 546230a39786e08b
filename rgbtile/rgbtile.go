// Package rgbtile composites multi-band tiles for dual/quad-pol
// visualization: it maps a caller-supplied polarization list to covariance
// term datasets through a resolved nisar.FrequencyStructure, samples every
// band in parallel through per-point chunk reads with the same
// linear-power-space averaging tileservice uses, and leaves RGB
// conversion and contrast stretching to the caller.
package rgbtile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/chunkio"
	"github.com/nisar-gcov/streamer/internal/lru"
	"github.com/nisar-gcov/streamer/internal/xmetrics"
	"github.com/nisar-gcov/streamer/nisar"
	"github.com/nisar-gcov/streamer/region"
)

// perBandCacheCap is the minimum entry count for each band's chunk cache,
// sized to hold a full fine sampling grid with headroom (spec §4.7).
const perBandCacheCap = 300

// RGBRequest is the input to GetRGBTile.
type RGBRequest struct {
	TileX, TileY, Zoom int
	BBox               Box
	MultiLook          bool
	RequiredPols       []string // e.g. ["HHHH", "HVHV", "VVVV"], caller-ordered
}

// Box mirrors tileservice.Box; kept separate so rgbtile has no import
// dependency on tileservice.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// RGBTile is the output of GetRGBTile: one sampled float32 buffer per
// requested polarization, keyed by term; a term with no dataset gets a
// zero-filled buffer.
type RGBTile struct {
	Bands  map[string][]float32
	Width  int
	Height int
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tileSize int
	logger   *zap.Logger
	metrics  *xmetrics.Metrics
}

func defaultOptions() *options {
	return &options{tileSize: 256, logger: zap.NewNop(), metrics: xmetrics.NewNoop()}
}

// WithTileSize overrides the default 256x256 output size.
func WithTileSize(n int) Option { return func(o *options) { o.tileSize = n } }

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

// band holds one polarization term's engine/region pair plus its own
// chunk cache, kept separate per term to avoid key collisions across
// datasets (spec §4.7).
type band struct {
	term   string
	path   string
	engine *chunkio.Engine
	region *region.Reader
}

// Service composites RGB tiles across the covariance-term datasets of one
// FrequencyStructure.
type Service struct {
	fs    *nisar.FrequencyStructure
	bands map[string]*band

	dims      []uint64
	chunkDims []uint32

	opts *options

	mu    sync.Mutex
	cache *lru.Cache[rgbKey, *RGBTile]
}

type rgbKey struct {
	tileX, tileY, zoom int
	multiLook          bool
	pols               string // sorted, joined RequiredPols, for cache key stability
}

// New builds a Service over fs's covariance term datasets. engines must
// contain one already-started chunkio.Engine per term in fs.CovarianceTerms
// (or at least every term the caller intends to request); engines for
// terms not present in fs are ignored.
func New(fs *nisar.FrequencyStructure, engines map[string]*chunkio.Engine, opts ...Option) (*Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Service{
		fs:    fs,
		bands: make(map[string]*band),
		opts:  o,
		cache: lru.New[rgbKey, *RGBTile](64, func(*RGBTile) int { return 1 }),
	}

	for term, path := range fs.CovariancePaths {
		eng, ok := engines[term]
		if !ok {
			continue
		}
		if s.dims == nil {
			s.dims = eng.Dims()
			s.chunkDims = eng.ChunkDims()
		} else if !sameDims(s.dims, eng.Dims()) {
			o.logger.Warn("covariance term dataset shape mismatch, band will zero-fill",
				zap.String("term", term), zap.Uint64s("dims", eng.Dims()), zap.Uint64s("expected", s.dims))
			continue
		}
		s.bands[term] = &band{term: term, path: path, engine: eng, region: region.NewReader(eng)}
	}

	if len(s.bands) == 0 {
		return nil, fmt.Errorf("rgbtile: no covariance term engines available for frequency %s", fs.Frequency)
	}
	return s, nil
}

func sameDims(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Service) imageWidth() uint64  { return s.dims[len(s.dims)-1] }
func (s *Service) imageHeight() uint64 { return s.dims[0] }

// GetRGBTile resolves req into an RGBTile, or (nil, nil) when the clipped
// pixel box is empty.
func (s *Service) GetRGBTile(ctx context.Context, req RGBRequest) (*RGBTile, error) {
	key := s.cacheKey(req)

	s.mu.Lock()
	if cached, ok := s.cache.Get(key); ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	px, ok := clipToImage(pixelBoxFromBBox(req.BBox, s.imageWidth(), s.imageHeight()), s.imageWidth(), s.imageHeight())
	if !ok {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(map[string][]float32, len(req.RequiredPols))
	var mu sync.Mutex

	for _, pol := range req.RequiredPols {
		pol := pol
		b, ok := s.bands[pol]
		if !ok {
			s.opts.logger.Warn("requested polarization has no dataset, zero-filling",
				zap.String("polarization", pol))
			mu.Lock()
			results[pol] = make([]float32, s.opts.tileSize*s.opts.tileSize)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			samples, err := s.sampleBand(gctx, b, px, req.MultiLook)
			if err != nil {
				return fmt.Errorf("rgbtile: sampling band %s: %w", pol, err)
			}
			mu.Lock()
			results[pol] = samples
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tile := &RGBTile{Bands: results, Width: s.opts.tileSize, Height: s.opts.tileSize}

	s.mu.Lock()
	s.cache.Put(key, tile)
	s.mu.Unlock()

	return tile, nil
}

// CoveringChunkCount reports the total distinct chunk fetches GetRGBTile
// would need across every band in pols for req's bbox, the diagnostic
// spec §4.7 calls for to validate that dual-pol compositing stays far
// below chunkCount x pols HTTP requests (coalescing collapses repeats
// into a handful of range requests per band).
func (s *Service) CoveringChunkCount(req RGBRequest) int {
	px, ok := clipToImage(pixelBoxFromBBox(req.BBox, s.imageWidth(), s.imageHeight()), s.imageWidth(), s.imageHeight())
	if !ok {
		return 0
	}
	box := region.Box{
		Start: []uint64{uint64(px.minY), uint64(px.minX)},
		End:   []uint64{uint64(px.maxY), uint64(px.maxX)},
	}
	total := 0
	for _, pol := range req.RequiredPols {
		b, ok := s.bands[pol]
		if !ok {
			continue
		}
		total += b.region.CoveringChunkCount(box)
	}
	return total
}

func (s *Service) cacheKey(req RGBRequest) rgbKey {
	sorted := append([]string(nil), req.RequiredPols...)
	sort.Strings(sorted)
	joined := ""
	for i, p := range sorted {
		if i > 0 {
			joined += ","
		}
		joined += p
	}
	return rgbKey{tileX: req.TileX, tileY: req.TileY, zoom: req.Zoom, multiLook: req.MultiLook, pols: joined}
}

func isNaN32(v float32) bool { return v != v }
