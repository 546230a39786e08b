// Package chunkio is the chunk I/O engine: it turns a parsed HDF5 chunk
// index into a cache-backed, coalescing, adaptively-concurrent fetch
// pipeline over a bytesource.Source. The actor loop here is modeled
// directly on protomaps' tile server (request/response channels, an
// inflight map, a container/list LRU) generalized from "one HTTP range per
// tile" to "one HTTP range per coalesced group of chunks".
package chunkio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nisar-gcov/streamer/bytesource"
	"github.com/nisar-gcov/streamer/hdf5"
	"github.com/nisar-gcov/streamer/internal/btree"
	"github.com/nisar-gcov/streamer/internal/lru"
	"github.com/nisar-gcov/streamer/internal/message"
	"github.com/nisar-gcov/streamer/internal/xmetrics"
)

const (
	// DefaultCacheBytes bounds the decoded-chunk LRU.
	DefaultCacheBytes = 256 << 20

	// defaultBatchWindow is how long the actor loop waits to accumulate
	// pending requests before coalescing them into range fetches.
	defaultBatchWindow = 4 * time.Millisecond

	// defaultCoalesceGap is the maximum gap, in bytes, between two chunks'
	// byte ranges for them to be merged into a single range request.
	defaultCoalesceGap = 64 << 10

	// defaultMaxRangeBytes caps a single coalesced range request so one
	// sparse dataset can't force a multi-gigabyte GET.
	defaultMaxRangeBytes = 32 << 20

	defaultMinConcurrency = 2
	defaultMaxConcurrency = 32
)

func encodeOrigin(origin []uint64) string {
	var b strings.Builder
	for i, v := range origin {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	ChunksFetched  int64
	ChunksCacheHit int64
	BytesFetched   int64
	RangeRequests  int64
	CacheEntries   int
	CacheBytes     int
	Concurrency    int
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	cacheBytes     int
	batchWindow    time.Duration
	coalesceGap    int64
	maxRangeBytes  int64
	minConcurrency int
	maxConcurrency int
	logger         *zap.Logger
	metrics        *xmetrics.Metrics
}

func defaultOptions() *options {
	return &options{
		cacheBytes:     DefaultCacheBytes,
		batchWindow:    defaultBatchWindow,
		coalesceGap:    defaultCoalesceGap,
		maxRangeBytes:  defaultMaxRangeBytes,
		minConcurrency: defaultMinConcurrency,
		maxConcurrency: defaultMaxConcurrency,
		logger:         zap.NewNop(),
		metrics:        xmetrics.NewNoop(),
	}
}

// WithCacheBytes bounds the decoded-chunk cache.
func WithCacheBytes(n int) Option { return func(o *options) { o.cacheBytes = n } }

// WithBatchWindow sets how long pending requests accumulate before being
// coalesced into range fetches.
func WithBatchWindow(d time.Duration) Option { return func(o *options) { o.batchWindow = d } }

// WithConcurrencyRange bounds the adaptive fetch concurrency.
func WithConcurrencyRange(min, max int) Option {
	return func(o *options) {
		if min > 0 {
			o.minConcurrency = min
		}
		if max >= min {
			o.maxConcurrency = max
		}
	}
}

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

type fetchRequest struct {
	key    string
	entry  btree.ChunkEntry
	respCh chan fetchResult
}

type fetchResult struct {
	data []byte
	err  error
}

// completion carries one finished chunk fetch back into the actor loop so
// cache inserts and waiter notification stay single-threaded, matching
// protomaps' response-channel pattern.
type completion struct {
	key  string
	data []byte
	err  error
}

// Engine drives chunk fetches for one chunked dataset.
type Engine struct {
	src    bytesource.Source
	layout *hdf5.ChunkLayout
	byKey  map[string]btree.ChunkEntry

	opts *options
	sf   singleflight.Group

	reqs        chan fetchRequest
	completions chan completion
	cancel      context.CancelFunc
	done        chan struct{}

	concTarget atomic.Int64

	mu    sync.Mutex
	stats Stats
}

// New builds an Engine for the given chunk layout. Call Start before
// issuing ReadChunk calls.
func New(src bytesource.Source, layout *hdf5.ChunkLayout, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	byKey := make(map[string]btree.ChunkEntry, len(layout.Entries))
	for _, e := range layout.Entries {
		byKey[encodeOrigin(e.Offset)] = e
	}

	e := &Engine{
		src:         src,
		layout:      layout,
		byKey:       byKey,
		opts:        o,
		reqs:        make(chan fetchRequest, 64),
		completions: make(chan completion, 256),
		done:        make(chan struct{}),
	}
	e.concTarget.Store(int64(o.minConcurrency))
	e.opts.metrics.Concurrency.Set(float64(o.minConcurrency))
	return e
}

// Start launches the actor loop. The engine keeps running until ctx is
// canceled or Close is called; cancellation never aborts a fetch already
// in flight, so the cache it's populating is never left half-written.
func (e *Engine) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.run(loopCtx)
}

// Close stops the actor loop. Fetches already dispatched to the source
// are allowed to finish; their results are discarded.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
	return nil
}

// ChunkDims returns the dataset's chunk dimensions.
func (e *Engine) ChunkDims() []uint32 { return e.layout.ChunkDims }

// Dims returns the dataset's overall dimensions.
func (e *Engine) Dims() []uint64 { return e.layout.Dims }

// ElementSize returns the size in bytes of one element.
func (e *Engine) ElementSize() int { return e.layout.ElementSize }

// Datatype returns the dataset's decoded HDF5 datatype, for callers that
// need to interpret chunk bytes as typed samples (tileservice, rgbtile).
func (e *Engine) Datatype() *message.Datatype { return e.layout.Datatype }

// HasChunk reports whether a chunk exists at origin (HDF5 allows sparse
// chunked datasets; a missing chunk reads as all-zero).
func (e *Engine) HasChunk(origin []uint64) bool {
	_, ok := e.byKey[encodeOrigin(origin)]
	return ok
}

// ReadChunk returns the decoded bytes for the chunk whose origin is
// origin, fetching and caching it if necessary. A missing (sparse) chunk
// returns a zero-filled buffer of the nominal chunk size, never an error.
func (e *Engine) ReadChunk(ctx context.Context, origin []uint64) ([]byte, error) {
	key := encodeOrigin(origin)

	entry, ok := e.byKey[key]
	if !ok {
		return make([]byte, e.nominalChunkBytes()), nil
	}

	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		respCh := make(chan fetchResult, 1)
		select {
		case e.reqs <- fetchRequest{key: key, entry: entry, respCh: respCh}:
		case <-e.done:
			return nil, fmt.Errorf("chunkio: engine closed")
		}

		select {
		case res := <-respCh:
			if res.err != nil {
				return nil, res.err
			}
			return res.data, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats returns a snapshot of counters and current cache/concurrency state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Concurrency = int(e.concTarget.Load())
	return s
}

func (e *Engine) nominalChunkBytes() int {
	n := e.layout.ElementSize
	for _, d := range e.layout.ChunkDims {
		n *= int(d)
	}
	return n
}

// pendingGroup is a run of chunk fetch requests whose byte ranges are
// coalesced into one range request.
type pendingGroup struct {
	start, end int64 // [start, end) in the underlying source
	members    []fetchRequest
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	cache := lru.New[string, []byte](e.opts.cacheBytes, func(b []byte) int { return len(b) })
	inflight := make(map[string][]fetchRequest)
	pending := make(map[string]fetchRequest)
	pendingOrder := make([]string, 0, 64)

	ticker := time.NewTicker(e.opts.batchWindow)
	defer ticker.Stop()

	flush := func() {
		if len(pendingOrder) == 0 {
			return
		}
		reqs := make([]fetchRequest, 0, len(pendingOrder))
		for _, k := range pendingOrder {
			reqs = append(reqs, pending[k])
			inflight[k] = append(inflight[k], pending[k])
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
		e.dispatch(reqs)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-e.reqs:
			if cached, ok := cache.Get(req.key); ok {
				e.mu.Lock()
				e.stats.ChunksCacheHit++
				e.mu.Unlock()
				e.opts.metrics.ChunksCacheHit.Inc()
				req.respCh <- fetchResult{data: cached}
				continue
			}
			if _, ok := inflight[req.key]; ok {
				inflight[req.key] = append(inflight[req.key], req)
				continue
			}
			if _, ok := pending[req.key]; !ok {
				pending[req.key] = req
				pendingOrder = append(pendingOrder, req.key)
			}
			if len(pendingOrder) >= e.batchSizeTarget() {
				flush()
			}

		case <-ticker.C:
			flush()

		case c := <-e.completions:
			waiters := inflight[c.key]
			delete(inflight, c.key)
			if c.err == nil {
				cache.Put(c.key, c.data)
				e.mu.Lock()
				e.stats.CacheEntries = cache.Len()
				e.stats.CacheBytes = cache.Size()
				e.mu.Unlock()
				e.opts.metrics.CacheEntries.Set(float64(cache.Len()))
			}
			for _, w := range waiters {
				w.respCh <- fetchResult{data: c.data, err: c.err}
			}
		}
	}
}

func (e *Engine) batchSizeTarget() int {
	return int(e.concTarget.Load()) * 4
}

// dispatch groups reqs by byte-range proximity and fetches each group
// concurrently, bounded by the current adaptive concurrency target.
// Results are delivered asynchronously via e.completions; dispatch itself
// never blocks the actor loop.
func (e *Engine) dispatch(reqs []fetchRequest) {
	groups := coalesce(reqs, e.opts.coalesceGap, e.opts.maxRangeBytes)

	g := new(errgroup.Group)
	g.SetLimit(int(e.concTarget.Load()))
	e.opts.metrics.InflightFetches.Add(float64(len(groups)))

	go func() {
		for _, grp := range groups {
			grp := grp
			g.Go(func() error {
				e.fetchGroup(grp)
				return nil
			})
		}
		g.Wait()
		e.opts.metrics.InflightFetches.Add(-float64(len(groups)))
	}()
}

// fetchGroup issues one coalesced range read and decodes each member
// chunk's slice of it. It never observes caller cancellation: once
// dispatched a fetch always runs to completion so the cache stays
// consistent for every other caller waiting on these chunks.
func (e *Engine) fetchGroup(grp pendingGroup) {
	started := time.Now()
	raw, err := e.src.Read(context.Background(), grp.start, grp.end-grp.start)
	latency := time.Since(started)

	e.opts.metrics.RangeRequests.Inc()
	e.opts.metrics.FetchLatency.Observe(latency.Seconds())
	e.mu.Lock()
	e.stats.RangeRequests++
	e.mu.Unlock()

	if err != nil {
		for _, m := range grp.members {
			e.completions <- completion{key: m.key, err: err}
		}
		e.adjustConcurrency(false)
		return
	}

	e.opts.metrics.BytesFetched.Add(float64(len(raw)))
	e.mu.Lock()
	e.stats.BytesFetched += int64(len(raw))
	e.stats.ChunksFetched += int64(len(grp.members))
	e.mu.Unlock()
	e.opts.metrics.ChunksFetched.Add(float64(len(grp.members)))

	for _, m := range grp.members {
		start := int64(m.entry.Address) - grp.start
		end := start + int64(m.entry.Size)
		if start < 0 || end > int64(len(raw)) {
			e.completions <- completion{key: m.key, err: fmt.Errorf("chunkio: chunk range outside fetched group")}
			continue
		}
		chunkRaw := raw[start:end]

		decoded := chunkRaw
		if e.layout.Pipeline != nil && !e.layout.Pipeline.Empty() {
			d, derr := e.layout.Pipeline.Decode(append([]byte(nil), chunkRaw...), m.entry.FilterMask)
			if derr != nil {
				e.completions <- completion{key: m.key, err: fmt.Errorf("decoding chunk: %w", derr)}
				continue
			}
			decoded = d
		} else {
			decoded = append([]byte(nil), chunkRaw...)
		}
		e.opts.logger.Debug("decoded chunk",
			zap.String("origin", m.key), zap.Int("bytes", len(decoded)),
			zap.Uint64("fingerprint", xxhash.Sum64(decoded)))
		e.completions <- completion{key: m.key, data: decoded}
	}

	e.adjustConcurrency(true)
}

// adjustConcurrency is a simple additive-increase/multiplicative-decrease
// throttle: a successful batch nudges the concurrency target up towards
// maxConcurrency, a failed one backs it off towards minConcurrency.
func (e *Engine) adjustConcurrency(ok bool) {
	cur := e.concTarget.Load()
	var next int64
	if ok {
		next = cur + 1
		if next > int64(e.opts.maxConcurrency) {
			next = int64(e.opts.maxConcurrency)
		}
	} else {
		next = cur / 2
		if next < int64(e.opts.minConcurrency) {
			next = int64(e.opts.minConcurrency)
		}
	}
	e.concTarget.Store(next)
	e.opts.metrics.Concurrency.Set(float64(next))
}

// coalesce sorts requests by file offset and merges adjacent/overlapping
// ranges separated by no more than maxGap bytes into single groups, each
// capped at maxBytes.
func coalesce(reqs []fetchRequest, maxGap, maxBytes int64) []pendingGroup {
	sorted := append([]fetchRequest(nil), reqs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].entry.Address < sorted[j].entry.Address
	})

	var groups []pendingGroup
	for _, r := range sorted {
		start := int64(r.entry.Address)
		end := start + int64(r.entry.Size)

		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			if start-last.end <= maxGap && end-last.start <= maxBytes {
				if end > last.end {
					last.end = end
				}
				last.members = append(last.members, r)
				continue
			}
		}
		groups = append(groups, pendingGroup{start: start, end: end, members: []fetchRequest{r}})
	}
	return groups
}
