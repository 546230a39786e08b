package tileservice

import (
	"context"
	"fmt"
	"math"

	"github.com/nisar-gcov/streamer/internal/dtype"
	"github.com/nisar-gcov/streamer/region"
)

// directTile reads px directly out of the source array and resamples it
// down to the service's configured tile size, used whenever the requested
// slice is small enough (<= directPathMaxPixels) that a single region read
// is cheaper than grid sampling through the chunk cache.
func (s *Service) directTile(ctx context.Context, px pixelBox, multiLook bool) (*Tile, error) {
	box := region.Box{
		Start: []uint64{uint64(px.MinY), uint64(px.MinX)},
		End:   []uint64{uint64(px.MaxY), uint64(px.MaxX)},
	}
	raw, err := s.region.ReadRegion(ctx, box)
	if err != nil {
		return nil, fmt.Errorf("tileservice: direct region read: %w", err)
	}

	sliceW := int(px.MaxX - px.MinX)
	sliceH := int(px.MaxY - px.MinY)
	n := sliceW * sliceH
	samples, err := dtype.DecodeFloat32(s.datatype, raw, n)
	if err != nil {
		return nil, fmt.Errorf("tileservice: decoding direct region: %w", err)
	}

	out := resampleBoxFilter(samples, sliceW, sliceH, s.opts.tileSize, s.opts.tileSize)

	tile := &Tile{Data: out, Width: s.opts.tileSize, Height: s.opts.tileSize}
	if s.maskEngine != nil {
		mask, err := s.sampleMaskDirect(ctx, px)
		if err == nil {
			tile.Mask = mask
		}
	}
	return tile, nil
}

// chunkSampledTile samples px on a coarseGrid x coarseGrid grid straight
// out of the chunk cache, bilinear-upsamples it to tile size and schedules
// the fine-grid refinement; used for slices too large for a direct read.
// Each grid sample is either a nearest-neighbor lookup or, when multiLook
// is set, the mean of an NxN neighborhood in linear power space.
func (s *Service) chunkSampledTile(ctx context.Context, px pixelBox, multiLook bool, key TileKey) (*Tile, error) {
	coarse, err := s.sampleGrid(ctx, px, multiLook, coarseGrid, coarseGrid)
	if err != nil {
		return nil, err
	}
	tile := &Tile{
		Data:   bilinearResample(coarse, coarseGrid, coarseGrid, s.opts.tileSize, s.opts.tileSize),
		Width:  s.opts.tileSize,
		Height: s.opts.tileSize,
	}
	if s.maskEngine != nil {
		if mask, err := s.sampleMaskGrid(ctx, px, coarseGrid, coarseGrid); err == nil {
			tile.Mask = resampleMaskNearest(mask, coarseGrid, coarseGrid, s.opts.tileSize, s.opts.tileSize)
		}
	}

	s.scheduleRefine(px, multiLook, key)
	return tile, nil
}

const (
	coarseGrid = 8
	fineGrid   = 24
)

// sampleGrid evaluates gridW x gridH sample points evenly spaced across
// px, each a nearest-neighbor or multi-look-averaged power value.
func (s *Service) sampleGrid(ctx context.Context, px pixelBox, multiLook bool, gridW, gridH int) ([]float32, error) {
	sliceW := float64(px.MaxX - px.MinX)
	sliceH := float64(px.MaxY - px.MinY)
	stepX := sliceW / float64(gridW)
	stepY := sliceH / float64(gridH)

	lookN := 1
	if multiLook {
		lookN = clampInt(int(math.Round(math.Sqrt(stepX*stepY))), 4, 8)
	}

	out := make([]float32, gridW*gridH)
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			cx := px.MinX + int64((float64(gx)+0.5)*stepX)
			cy := px.MinY + int64((float64(gy)+0.5)*stepY)
			v, err := s.samplePoint(ctx, cx, cy, lookN)
			if err != nil {
				return nil, err
			}
			out[gy*gridW+gx] = v
		}
	}
	return out, nil
}

// samplePoint reads a single output sample at pixel (cx, cy): a plain
// nearest-neighbor chunk lookup when lookN==1, or the mean of an
// lookN x lookN neighborhood in linear power space otherwise, excluding
// NaN and non-positive values per spec §4.6.
func (s *Service) samplePoint(ctx context.Context, cx, cy int64, lookN int) (float32, error) {
	if lookN <= 1 {
		return s.readOneSample(ctx, cx, cy)
	}

	half := lookN / 2
	var sum float64
	var count int
	for dy := -half; dy < lookN-half; dy++ {
		for dx := -half; dx < lookN-half; dx++ {
			x := cx + int64(dx)
			y := cy + int64(dy)
			if x < 0 || y < 0 || x >= int64(s.imageWidth()) || y >= int64(s.imageHeight()) {
				continue
			}
			v, err := s.readOneSample(ctx, x, y)
			if err != nil {
				return 0, err
			}
			if validSample(v) {
				sum += float64(v)
				count++
			}
		}
	}
	if count == 0 {
		return 0, nil
	}
	return float32(sum / float64(count)), nil
}

// readOneSample decodes the single element at (x, y) out of its covering
// chunk, relying on the chunk engine's cache so repeated samples within
// the same chunk cost no additional I/O.
func (s *Service) readOneSample(ctx context.Context, x, y int64) (float32, error) {
	chunkDims := s.chunkDims
	originY := (uint64(y) / uint64(chunkDims[0])) * uint64(chunkDims[0])
	originX := (uint64(x) / uint64(chunkDims[1])) * uint64(chunkDims[1])

	raw, err := s.engine.ReadChunk(ctx, []uint64{originY, originX})
	if err != nil {
		return 0, fmt.Errorf("tileservice: reading chunk at (%d,%d): %w", originY, originX, err)
	}

	localY := uint64(y) - originY
	localX := uint64(x) - originX
	localIdx := int(localY*uint64(chunkDims[1]) + localX)

	elemSize := s.engine.ElementSize()
	start := localIdx * elemSize
	end := start + elemSize
	if start < 0 || end > len(raw) {
		return 0, nil
	}

	samples, err := dtype.DecodeFloat32(s.datatype, raw[start:end], 1)
	if err != nil {
		return 0, fmt.Errorf("tileservice: decoding sample: %w", err)
	}
	return samples[0], nil
}

// bilinearResample upsamples src (srcW x srcH, row-major) to dstW x dstH
// with bilinear interpolation, per spec §4.6 Phase 1's "mosaic via
// box-filter of power values, bilinear-interpolate to tile size". Edge
// samples clamp instead of wrapping or extrapolating.
func bilinearResample(src []float32, srcW, srcH, dstW, dstH int) []float32 {
	out := make([]float32, dstW*dstH)
	if srcW == 1 && srcH == 1 {
		for i := range out {
			out[i] = src[0]
		}
		return out
	}

	at := func(x, y int) float32 {
		if x < 0 {
			x = 0
		}
		if x >= srcW {
			x = srcW - 1
		}
		if y < 0 {
			y = 0
		}
		if y >= srcH {
			y = srcH - 1
		}
		return src[y*srcW+x]
	}

	for dy := 0; dy < dstH; dy++ {
		// Sample at the destination pixel's center, mapped back into source
		// space, per the standard half-pixel-center resampling convention.
		fy := (float64(dy)+0.5)*float64(srcH)/float64(dstH) - 0.5
		y0 := int(math.Floor(fy))
		wy := fy - float64(y0)

		for dx := 0; dx < dstW; dx++ {
			fx := (float64(dx)+0.5)*float64(srcW)/float64(dstW) - 0.5
			x0 := int(math.Floor(fx))
			wx := fx - float64(x0)

			v00 := float64(at(x0, y0))
			v10 := float64(at(x0+1, y0))
			v01 := float64(at(x0, y0+1))
			v11 := float64(at(x0+1, y0+1))

			top := v00 + (v10-v00)*wx
			bottom := v01 + (v11-v01)*wx
			out[dy*dstW+dx] = float32(top + (bottom-top)*wy)
		}
	}
	return out
}

// resampleBoxFilter resamples src (srcW x srcH, row-major) to dstW x dstH
// via nearest-neighbor on the source grid, used for the direct-read path
// where src is already dense pixel data being downsampled to tile size —
// spec §4.6 only mandates bilinear interpolation for the Phase 1
// coarse-grid upsample (see bilinearResample), not this path.
func resampleBoxFilter(src []float32, srcW, srcH, dstW, dstH int) []float32 {
	out := make([]float32, dstW*dstH)
	for dy := 0; dy < dstH; dy++ {
		sy := dy * srcH / dstH
		if sy >= srcH {
			sy = srcH - 1
		}
		for dx := 0; dx < dstW; dx++ {
			sx := dx * srcW / dstW
			if sx >= srcW {
				sx = srcW - 1
			}
			out[dy*dstW+dx] = src[sy*srcW+sx]
		}
	}
	return out
}

func resampleMaskNearest(src []byte, srcW, srcH, dstW, dstH int) []byte {
	out := make([]byte, dstW*dstH)
	for dy := 0; dy < dstH; dy++ {
		sy := dy * srcH / dstH
		if sy >= srcH {
			sy = srcH - 1
		}
		for dx := 0; dx < dstW; dx++ {
			sx := dx * srcW / dstW
			if sx >= srcW {
				sx = srcW - 1
			}
			out[dy*dstW+dx] = src[sy*srcW+sx]
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
