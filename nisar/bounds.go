package nisar

import (
	"fmt"

	"go.uber.org/zap"
)

// resolveBoundsAndSpacing fills XMin/XMax/YMin/YMax/XSpacing/YSpacing on fs
// using the three-tier fallback of spec §4.5: full-array read, endpoint-only
// read, then origin+spacing formula. Pixel spacing prefers the dedicated
// spacing datasets; only tier 3 derives it from array extent.
func (r *Resolver) resolveBoundsAndSpacing(band Band, freq string, fs *FrequencyStructure) error {
	xds, xok := r.dataset(xCoordinatesPath(band, freq))
	yds, yok := r.dataset(yCoordinatesPath(band, freq))
	if !xok || !yok {
		return fmt.Errorf("nisar: coordinate arrays not found for frequency %s", freq)
	}

	xSpacing, hasXSpacing := r.readScalarSpacing(xCoordinateSpacingPath(band, freq))
	ySpacing, hasYSpacing := r.readScalarSpacing(yCoordinateSpacingPath(band, freq))

	// Tier 1: read the full coordinate arrays.
	xVals, xErr := xds.ReadFloat64()
	yVals, yErr := yds.ReadFloat64()
	if xErr == nil && yErr == nil && len(xVals) > 0 && len(yVals) > 0 {
		fs.XMin, fs.XMax = minMax(xVals)
		fs.YMin, fs.YMax = minMax(yVals)
		fs.HasBounds = true
		fs.BoundsTier = 1
		r.fillSpacing(fs, xVals, yVals, xSpacing, hasXSpacing, ySpacing, hasYSpacing)
		return nil
	}

	// Tier 2: endpoints only.
	xFirst, xLast, xLen, xEPErr := readEndpoints(xds)
	yFirst, yLast, yLen, yEPErr := readEndpoints(yds)
	if xEPErr == nil && yEPErr == nil {
		fs.XMin, fs.XMax = orderPair(xFirst, xLast)
		fs.YMin, fs.YMax = orderPair(yFirst, yLast)
		fs.HasBounds = true
		fs.BoundsTier = 2
		if hasXSpacing {
			fs.XSpacing = xSpacing
		} else if xLen > 1 {
			fs.XSpacing = (xLast - xFirst) / float64(xLen-1)
		}
		if hasYSpacing {
			fs.YSpacing = ySpacing
		} else if yLen > 1 {
			fs.YSpacing = (yLast - yFirst) / float64(yLen-1)
		}
		fs.HasSpacing = true
		return nil
	}

	// Tier 3: first element + spacing + dataset length from shape.
	if !hasXSpacing || !hasYSpacing {
		return fmt.Errorf("nisar: coordinate arrays unreadable and spacing datasets absent for frequency %s", freq)
	}
	xFirst, _, _ = readFirstOnly(xds)
	yFirst, _, _ = readFirstOnly(yds)
	xDimLen := firstDim(xds)
	yDimLen := firstDim(yds)
	if xDimLen == 0 {
		xDimLen = 1
	}
	if yDimLen == 0 {
		yDimLen = 1
	}

	fs.XSpacing, fs.YSpacing = xSpacing, ySpacing
	fs.HasSpacing = true
	fs.XMin = xFirst
	fs.XMax = xFirst + float64(xDimLen-1)*xSpacing
	fs.YMin = yFirst
	fs.YMax = yFirst + float64(yDimLen-1)*ySpacing
	if fs.XMax < fs.XMin {
		fs.XMin, fs.XMax = fs.XMax, fs.XMin
	}
	if fs.YMax < fs.YMin {
		fs.YMin, fs.YMax = fs.YMax, fs.YMin
	}
	fs.HasBounds = true
	fs.BoundsTier = 3

	r.logger.Warn("bounds resolved via tier-3 origin+spacing formula, no coordinate array readable",
		zap.String("frequency", freq))
	return nil
}

func (r *Resolver) fillSpacing(fs *FrequencyStructure, xVals, yVals []float64, xSpacing float64, hasX bool, ySpacing float64, hasY bool) {
	fs.HasSpacing = true
	switch {
	case hasX:
		fs.XSpacing = xSpacing
	case len(xVals) > 1:
		fs.XSpacing = (xVals[len(xVals)-1] - xVals[0]) / float64(len(xVals)-1)
	default:
		fs.HasSpacing = false
	}
	switch {
	case hasY:
		fs.YSpacing = ySpacing
	case len(yVals) > 1:
		fs.YSpacing = (yVals[len(yVals)-1] - yVals[0]) / float64(len(yVals)-1)
	default:
		fs.HasSpacing = false
	}
}

func (r *Resolver) readScalarSpacing(path string) (float64, bool) {
	ds, ok := r.dataset(path)
	if !ok {
		return 0, false
	}
	vals, err := ds.ReadFloat64()
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func minMax(vals []float64) (float64, float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func orderPair(a, b float64) (float64, float64) {
	if a <= b {
		return a, b
	}
	return b, a
}

// readEndpoints returns a coordinate dataset's first and last values and
// its length. The underlying contiguous-layout reader has no partial
// byte-range read surface (it always materializes the full buffer), so
// this does not save I/O over tier 1 the way a true endpoint-only fetch
// would; it exists to keep the tier-2/tier-3 fallback chain correct when
// tier 1 fails for a reason other than I/O cost (e.g. a malformed middle
// element). See DESIGN.md for the tradeoff.
func readEndpoints(ds interface{ ReadFloat64() ([]float64, error) }) (first, last float64, length int, err error) {
	vals, err := ds.ReadFloat64()
	if err != nil {
		return 0, 0, 0, err
	}
	if len(vals) == 0 {
		return 0, 0, 0, fmt.Errorf("nisar: empty coordinate array")
	}
	return vals[0], vals[len(vals)-1], len(vals), nil
}

func readFirstOnly(ds interface{ ReadFloat64() ([]float64, error) }) (float64, int, error) {
	vals, err := ds.ReadFloat64()
	if err != nil || len(vals) == 0 {
		return 0, 0, fmt.Errorf("nisar: coordinate array unreadable")
	}
	return vals[0], len(vals), nil
}

func firstDim(ds interface{ Shape() []uint64 }) uint64 {
	shape := ds.Shape()
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}
