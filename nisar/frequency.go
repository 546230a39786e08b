package nisar

import (
	"sort"

	"go.uber.org/zap"
)

// resolveFrequency fills in every FrequencyStructure field for one
// frequency using the three-tier fallback of spec §4.5: spec path lookup,
// path-tail scan, and (for covariance terms only) a power heuristic.
func (r *Resolver) resolveFrequency(band Band, freq string) (*FrequencyStructure, error) {
	fs := &FrequencyStructure{
		Frequency:       freq,
		CovariancePaths: make(map[string]string),
	}

	terms, paths, err := r.resolveCovarianceTerms(band, freq)
	if err != nil {
		return nil, err
	}
	fs.CovarianceTerms = terms
	fs.CovariancePaths = paths

	if _, ok := r.dataset(xCoordinatesPath(band, freq)); ok {
		fs.XCoordsPath = xCoordinatesPath(band, freq)
	}
	if _, ok := r.dataset(yCoordinatesPath(band, freq)); ok {
		fs.YCoordsPath = yCoordinatesPath(band, freq)
	}

	if err := r.resolveBoundsAndSpacing(band, freq, fs); err != nil {
		r.logger.Warn("bounds/spacing resolution failed", zap.String("frequency", freq), zap.Error(err))
	}

	epsg, zone, source, err := r.resolveProjection(band, freq, fs)
	if err != nil {
		r.logger.Warn("projection resolution fell back to WGS84",
			zap.String("frequency", freq), zap.Error(err))
		epsg, zone, source = 4326, 0, "fallback:wgs84"
	}
	fs.ProjectionEPSG = epsg
	fs.UTMZone = zone
	fs.ProjectionSource = source

	mp := maskPath(band, freq)
	if _, ok := r.dataset(mp); ok {
		fs.MaskDatasetPath = mp
		fs.HasMask = true
	}

	return fs, nil
}

func (r *Resolver) resolveCovarianceTerms(band Band, freq string) ([]string, map[string]string, error) {
	fgPath := frequencyGroupPath(band, freq)
	paths := make(map[string]string)

	// Tier 1: spec path lookup of the listOfCovarianceTerms dataset.
	if ds, ok := r.dataset(listOfCovarianceTermsPath(band, freq)); ok {
		names, err := ds.ReadString()
		if err == nil && len(names) > 0 {
			for _, name := range names {
				p := fgPath + "/" + name
				if _, ok := r.dataset(p); ok {
					paths[name] = p
				}
			}
			if len(paths) > 0 {
				return sortedKeys(paths), paths, nil
			}
		}
	}

	// Tier 2: path-tail scan, preferring datasets under this frequency's group.
	for path := range r.catalog {
		term, ok := covarianceTermFromPath(path)
		if !ok {
			continue
		}
		if _, exists := paths[term]; exists {
			continue
		}
		paths[term] = path
	}
	// Prefer the copy under the active frequency group when both exist.
	for term, path := range paths {
		preferred := fgPath + "/" + term
		if preferred != path {
			if _, ok := r.dataset(preferred); ok {
				paths[term] = preferred
			}
		}
	}
	if len(paths) > 0 {
		return sortedKeys(paths), paths, nil
	}

	// Tier 3: heuristic classification among real-valued diagonal-term
	// candidates by mean power, last resort only.
	terms, classified, err := r.heuristicClassifyDiagonalTerms(fgPath)
	if err != nil {
		return nil, nil, err
	}
	r.logger.Warn("covariance terms resolved via power heuristic, not spec paths",
		zap.String("frequency", freq), zap.Strings("terms", terms))
	return terms, classified, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
