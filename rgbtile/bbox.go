package rgbtile

// pixelBox is a clipped integer pixel-space rectangle [minX,maxX) x [minY,maxY).
// rgbtile only ever samples in pixel space: the RGB compositor is always
// invoked from a viewer that has already resolved its viewport to pixel
// coordinates against the primary (tileservice) dataset, so no world/pixel
// auto-detect is needed here.
type pixelBox struct {
	minX, minY, maxX, maxY int64
}

func pixelBoxFromBBox(b Box, width, height uint64) pixelBox {
	h := float64(height)
	return pixelBox{
		minX: int64(b.MinX), maxX: int64(b.MaxX),
		minY: int64(h) - int64(b.MaxY), maxY: int64(h) - int64(b.MinY),
	}
}

func clipToImage(b pixelBox, width, height uint64) (pixelBox, bool) {
	if b.minX < 0 {
		b.minX = 0
	}
	if b.minY < 0 {
		b.minY = 0
	}
	if b.maxX > int64(width) {
		b.maxX = int64(width)
	}
	if b.maxY > int64(height) {
		b.maxY = int64(height)
	}
	if b.minX >= b.maxX || b.minY >= b.maxY {
		return pixelBox{}, false
	}
	return b, true
}
