package tileservice

import (
	"go.uber.org/zap"
)

// scheduleRefine launches the phase-2 fine-grid resample for key in the
// background. The coarse tile already served to the caller stays in the
// cache until the fine tile is ready, then is replaced atomically.
func (s *Service) scheduleRefine(px pixelBox, multiLook bool, key TileKey) {
	s.mu.Lock()
	s.stats.RefinesScheduled++
	cb := s.onRefine
	s.mu.Unlock()

	s.refineWG.Add(1)
	go func() {
		defer s.refineWG.Done()

		fine, err := s.sampleGrid(s.refineCtx, px, multiLook, fineGrid, fineGrid)
		if err != nil {
			s.opts.logger.Debug("background tile refinement failed",
				zap.Int("tileX", key.TileX), zap.Int("tileY", key.TileY), zap.Error(err))
			return
		}

		tile := &Tile{
			Data:   bilinearResample(fine, fineGrid, fineGrid, s.opts.tileSize, s.opts.tileSize),
			Width:  s.opts.tileSize,
			Height: s.opts.tileSize,
		}
		if s.maskEngine != nil {
			if mask, err := s.sampleMaskGrid(s.refineCtx, px, fineGrid, fineGrid); err == nil {
				tile.Mask = resampleMaskNearest(mask, fineGrid, fineGrid, s.opts.tileSize, s.opts.tileSize)
			}
		}

		s.mu.Lock()
		s.tileCache.Put(key, tile)
		s.stats.RefinesCompleted++
		s.mu.Unlock()

		if cb != nil {
			cb(key)
		}
	}()
}

// PrefetchOverviewChunks synchronously warms the chunk cache with the
// dataset's coarse 8x8 overview grid, so the first real tile requests for
// a newly opened product hit a populated cache instead of cold chunks.
func (s *Service) PrefetchOverviewChunks() error {
	ctx := s.refineCtx
	w := s.imageWidth()
	h := s.imageHeight()
	chunkDims := s.chunkDims

	stepX := w / coarseGrid
	stepY := h / coarseGrid
	if stepX == 0 {
		stepX = 1
	}
	if stepY == 0 {
		stepY = 1
	}

	seen := make(map[[2]uint64]bool)
	for gy := 0; gy < coarseGrid; gy++ {
		for gx := 0; gx < coarseGrid; gx++ {
			x := uint64(gx) * stepX
			y := uint64(gy) * stepY
			originY := (y / uint64(chunkDims[0])) * uint64(chunkDims[0])
			originX := (x / uint64(chunkDims[1])) * uint64(chunkDims[1])
			key := [2]uint64{originY, originX}
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := s.engine.ReadChunk(ctx, []uint64{originY, originX}); err != nil {
				return err
			}
		}
	}
	return nil
}
