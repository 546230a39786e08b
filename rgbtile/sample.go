package rgbtile

import (
	"context"
	"fmt"
	"math"

	"github.com/nisar-gcov/streamer/internal/dtype"
)

// sampleBand evaluates a tileSize x tileSize sample grid over px for one
// band, each point a nearest-neighbor chunk lookup or, when multiLook is
// set, the mean of an NxN neighborhood in linear power space — identical
// sampling logic to tileservice's chunk-sampled path (spec §4.7).
func (s *Service) sampleBand(ctx context.Context, b *band, px pixelBox, multiLook bool) ([]float32, error) {
	n := s.opts.tileSize
	sliceW := float64(px.maxX - px.minX)
	sliceH := float64(px.maxY - px.minY)
	stepX := sliceW / float64(n)
	stepY := sliceH / float64(n)

	lookN := 1
	if multiLook {
		lookN = clampInt(int(math.Round(math.Sqrt(stepX*stepY))), 4, 8)
	}

	out := make([]float32, n*n)
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			cx := px.minX + int64((float64(gx)+0.5)*stepX)
			cy := px.minY + int64((float64(gy)+0.5)*stepY)
			v, err := s.samplePoint(ctx, b, cx, cy, lookN)
			if err != nil {
				return nil, err
			}
			out[gy*n+gx] = v
		}
	}
	return out, nil
}

func (s *Service) samplePoint(ctx context.Context, b *band, cx, cy int64, lookN int) (float32, error) {
	if lookN <= 1 {
		return s.readOneSample(ctx, b, cx, cy)
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
			v, err := s.readOneSample(ctx, b, x, y)
			if err != nil {
				return 0, err
			}
			if !isNaN32(v) && v > 0 {
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

func (s *Service) readOneSample(ctx context.Context, b *band, x, y int64) (float32, error) {
	chunkDims := b.engine.ChunkDims()
	originY := (uint64(y) / uint64(chunkDims[0])) * uint64(chunkDims[0])
	originX := (uint64(x) / uint64(chunkDims[1])) * uint64(chunkDims[1])

	raw, err := b.engine.ReadChunk(ctx, []uint64{originY, originX})
	if err != nil {
		return 0, fmt.Errorf("rgbtile: reading chunk for %s at (%d,%d): %w", b.term, originY, originX, err)
	}

	localY := uint64(y) - originY
	localX := uint64(x) - originX
	localIdx := int(localY*uint64(chunkDims[1]) + localX)

	elemSize := b.engine.ElementSize()
	start := localIdx * elemSize
	end := start + elemSize
	if start < 0 || end > len(raw) {
		return 0, nil
	}

	samples, err := dtype.DecodeFloat32(b.engine.Datatype(), raw[start:end], 1)
	if err != nil {
		return 0, fmt.Errorf("rgbtile: decoding sample for %s: %w", b.term, err)
	}
	return samples[0], nil
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
