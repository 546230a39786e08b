package tileservice

import (
	"context"
	"fmt"

	"github.com/nisar-gcov/streamer/region"
)

// sampleMaskDirect reads px out of the mask dataset in one region read and
// resamples it nearest-neighbor to the tile size. Mask values (0 = no
// data, 1-5 = layover/shadow/water categories, 255 = fill) are single
// bytes, read without any dtype decode.
func (s *Service) sampleMaskDirect(ctx context.Context, px pixelBox) ([]byte, error) {
	box := region.Box{
		Start: []uint64{uint64(px.MinY), uint64(px.MinX)},
		End:   []uint64{uint64(px.MaxY), uint64(px.MaxX)},
	}
	raw, err := s.maskRegion.ReadRegion(ctx, box)
	if err != nil {
		return nil, fmt.Errorf("tileservice: direct mask read: %w", err)
	}
	sliceW := int(px.MaxX - px.MinX)
	sliceH := int(px.MaxY - px.MinY)
	return resampleMaskNearest(raw, sliceW, sliceH, s.opts.tileSize, s.opts.tileSize), nil
}

// sampleMaskGrid evaluates a gridW x gridH nearest-neighbor mask sample
// grid to pair with a chunk-sampled data grid.
func (s *Service) sampleMaskGrid(ctx context.Context, px pixelBox, gridW, gridH int) ([]byte, error) {
	sliceW := float64(px.MaxX - px.MinX)
	sliceH := float64(px.MaxY - px.MinY)
	stepX := sliceW / float64(gridW)
	stepY := sliceH / float64(gridH)

	chunkDims := s.maskEngine.ChunkDims()
	elemSize := s.maskEngine.ElementSize()

	out := make([]byte, gridW*gridH)
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			x := px.MinX + int64((float64(gx)+0.5)*stepX)
			y := px.MinY + int64((float64(gy)+0.5)*stepY)

			originY := (uint64(y) / uint64(chunkDims[0])) * uint64(chunkDims[0])
			originX := (uint64(x) / uint64(chunkDims[1])) * uint64(chunkDims[1])
			raw, err := s.maskEngine.ReadChunk(ctx, []uint64{originY, originX})
			if err != nil {
				return nil, fmt.Errorf("tileservice: reading mask chunk: %w", err)
			}
			localY := uint64(y) - originY
			localX := uint64(x) - originX
			idx := int(localY*uint64(chunkDims[1])+localX) * elemSize
			if idx >= 0 && idx < len(raw) {
				out[gy*gridW+gx] = raw[idx]
			}
		}
	}
	return out, nil
}
