// Package nisar interprets a parsed HDF5 catalog using NISAR GCOV's product
// conventions: it locates the band, frequencies, covariance-term datasets,
// coordinate/projection/spacing metadata, and mask dataset, falling back
// through spec-path lookup, path-tail scanning, and value heuristics when
// the catalog doesn't match the documented layout exactly.
package nisar

import (
	"fmt"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/hdf5"
	"github.com/nisar-gcov/streamer/internal/xlog"
)

// Band is a NISAR radar band.
type Band string

const (
	BandLSAR Band = "LSAR"
	BandSSAR Band = "SSAR"
)

// KnownCovarianceTerms is the closed set of canonical SAR polarimetric
// covariance term names path-tail scanning matches against. Diagonal terms
// (HHHH, HVHV, VHVH, VVVV) are stored as real linear power; off-diagonal
// terms are complex.
var KnownCovarianceTerms = []string{
	"HHHH", "HVHV", "VHVH", "VVVV",
	"HHHV", "HHVV", "HVVH", "HVVV", "VHVV",
}

// DiagonalTerms is the subset of KnownCovarianceTerms stored as real power,
// the set the polarization heuristic classifies among.
var DiagonalTerms = []string{"HHHH", "HVHV", "VHVH", "VVVV"}

// FrequencyStructure holds everything resolved for one frequency (A or B)
// within a band.
type FrequencyStructure struct {
	Frequency        string
	CovarianceTerms  []string
	CovariancePaths  map[string]string // term -> dataset path
	XCoordsPath      string
	YCoordsPath      string
	XSpacing         float64
	YSpacing         float64
	HasSpacing       bool
	XMin, XMax       float64
	YMin, YMax       float64
	HasBounds        bool
	BoundsTier       int // 1, 2 or 3; 0 if unresolved
	ProjectionEPSG   int
	ProjectionSource string // how the EPSG code was resolved, for logging/tests
	UTMZone          int    // 0 if not UTM or not resolved via UTM inference
	MaskDatasetPath  string
	HasMask          bool
}

// WorldBound returns the frequency's resolved world bounds as an
// orb.Bound, for bbox-vs-image-extent comparisons in the tile service
// (world-vs-pixel bbox auto-detect, §4.6). Zero-value if bounds weren't
// resolved.
func (fs *FrequencyStructure) WorldBound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{fs.XMin, fs.YMin},
		Max: orb.Point{fs.XMax, fs.YMax},
	}
}

// ProductStructure is the top-level result of resolving a NISAR GCOV
// catalog: band, frequency set, and per-frequency detail.
type ProductStructure struct {
	Band         Band
	Frequencies  []string
	PerFrequency map[string]*FrequencyStructure
}

// IdentificationMetadata is the richer identification block real GCOV
// products carry: mission id, orbit, track/frame, processing provenance,
// acquisition time window, and the bounding polygon. All fields are best
// effort; a field stays at its zero value when its dataset is absent.
type IdentificationMetadata struct {
	MissionID            string
	AbsoluteOrbitNumber  int64
	RelativeOrbitNumber  int64
	TrackNumber          int64
	FrameNumber          int64
	OrbitPassDirection   string
	ProcessingLevel      string
	SoftwareVersion      string
	ZeroDopplerStartTime string
	ZeroDopplerStopTime  string
	BoundingPolygonWKT   string
}

// Resolver builds a ProductStructure and IdentificationMetadata from an
// open hdf5.File's catalog.
type Resolver struct {
	file    *hdf5.File
	logger  *zap.Logger
	catalog map[string]*hdf5.Dataset // path -> dataset, populated by Walk
	groups  map[string]*hdf5.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger attaches a zap logger used for heuristic-fallback and
// coordinate-length-mismatch warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver walks f's hierarchy once to build a flat dataset catalog,
// then returns a Resolver ready to produce a ProductStructure.
func NewResolver(f *hdf5.File, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		file:    f,
		logger:  xlog.Nop(),
		catalog: make(map[string]*hdf5.Dataset),
		groups:  make(map[string]*hdf5.Group),
	}
	for _, opt := range opts {
		opt(r)
	}

	err := hdf5.Walk(f.Root(), func(path string, obj interface{}, walkErr error) error {
		if walkErr != nil {
			r.logger.Debug("skipping unreadable object during catalog walk",
				zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		switch o := obj.(type) {
		case *hdf5.Dataset:
			r.catalog[path] = o
		case *hdf5.Group:
			r.groups[path] = o
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nisar: walking catalog: %w", err)
	}

	return r, nil
}

// Catalog returns the flat path -> dataset map built at construction, for
// callers (tile/RGB services) that need to look up a resolved dataset path
// directly.
func (r *Resolver) Catalog() map[string]*hdf5.Dataset {
	return r.catalog
}

func (r *Resolver) dataset(path string) (*hdf5.Dataset, bool) {
	ds, ok := r.catalog[path]
	return ds, ok
}

// Resolve detects the band, discovers frequencies, and fully resolves
// every FrequencyStructure field using the three-tier fallback described
// in spec §4.5.
func (r *Resolver) Resolve() (*ProductStructure, error) {
	band, err := r.detectBand()
	if err != nil {
		return nil, err
	}

	freqs, err := r.listFrequencies(band)
	if err != nil {
		return nil, err
	}

	ps := &ProductStructure{
		Band:         band,
		Frequencies:  freqs,
		PerFrequency: make(map[string]*FrequencyStructure),
	}

	for _, freq := range freqs {
		fs, err := r.resolveFrequency(band, freq)
		if err != nil {
			r.logger.Warn("frequency resolution incomplete",
				zap.String("band", string(band)), zap.String("frequency", freq), zap.Error(err))
			continue
		}
		ps.PerFrequency[freq] = fs
	}

	return ps, nil
}

func (r *Resolver) detectBand() (Band, error) {
	for _, b := range []Band{BandLSAR, BandSSAR} {
		if _, ok := r.groups[identificationPath(b)]; ok {
			return b, nil
		}
	}
	// Path-tail scan: any dataset/group under /science/<BAND>/ confirms the band.
	for path := range r.catalog {
		if band, ok := bandFromPath(path); ok {
			return band, nil
		}
	}
	for path := range r.groups {
		if band, ok := bandFromPath(path); ok {
			return band, nil
		}
	}
	return "", fmt.Errorf("nisar: could not detect band (LSAR/SSAR) in catalog")
}

func (r *Resolver) listFrequencies(band Band) ([]string, error) {
	// Tier 1: spec path lookup.
	if ds, ok := r.dataset(listOfFrequenciesPath(band)); ok {
		vals, err := ds.ReadString()
		if err == nil && len(vals) > 0 {
			return vals, nil
		}
		r.logger.Debug("listOfFrequencies present but unreadable, falling back to path scan",
			zap.Error(err))
	}

	// Tier 2: path-tail scan for frequencyA/frequencyB group names.
	found := map[string]bool{}
	for path := range r.groups {
		if freq, ok := frequencyFromPath(path, band); ok {
			found[freq] = true
		}
	}
	if len(found) == 0 {
		for path := range r.catalog {
			if freq, ok := frequencyFromPath(path, band); ok {
				found[freq] = true
			}
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("nisar: no frequencies found for band %s", band)
	}

	var freqs []string
	for _, f := range []string{"A", "B"} {
		if found[f] {
			freqs = append(freqs, f)
		}
	}
	return freqs, nil
}
