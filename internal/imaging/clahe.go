package imaging

// Contrast-limited adaptive histogram equalization on a single 8-bit plane.
// The plane is divided into a grid of tiles; each tile gets its own clipped
// histogram mapping, and per-pixel values are bilinearly interpolated between
// the four surrounding tile mappings to avoid visible tile seams.

const (
	claheTileGrid  = 8
	claheClipLimit = 2.5
)

// claheMapping builds the equalization lookup table for one tile.
func claheMapping(hist [256]int, pixels int, clipLimit float64) [256]uint8 {
	if pixels == 0 {
		var identity [256]uint8
		for i := range identity {
			identity[i] = uint8(i)
		}
		return identity
	}

	// Clip histogram bins and redistribute the excess uniformly.
	clip := int(clipLimit * float64(pixels) / 256.0)
	if clip < 1 {
		clip = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > clip {
			excess += hist[i] - clip
			hist[i] = clip
		}
	}
	share := excess / 256
	remainder := excess % 256
	for i := range hist {
		hist[i] += share
		if i < remainder {
			hist[i]++
		}
	}

	// Cumulative distribution to lookup table.
	var lut [256]uint8
	cdf := 0
	scale := 255.0 / float64(pixels)
	for i := range hist {
		cdf += hist[i]
		v := int(float64(cdf) * scale)
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}
	return lut
}

// equalizeLuminance applies CLAHE to an 8-bit luminance plane of size w x h
// and returns a new plane.
func equalizeLuminance(y []uint8, w, h int) []uint8 {
	if w <= 0 || h <= 0 {
		return y
	}

	tilesX, tilesY := claheTileGrid, claheTileGrid
	if tilesX > w {
		tilesX = w
	}
	if tilesY > h {
		tilesY = h
	}
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY

	// Per-tile mappings.
	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)

			var hist [256]int
			for yy := y0; yy < y1; yy++ {
				row := yy * w
				for xx := x0; xx < x1; xx++ {
					hist[y[row+xx]]++
				}
			}
			luts[ty*tilesX+tx] = claheMapping(hist, (x1-x0)*(y1-y0), claheClipLimit)
		}
	}

	// Bilinear interpolation between the four nearest tile centers.
	out := make([]uint8, len(y))
	for py := 0; py < h; py++ {
		// Position relative to tile centers along y.
		fy := (float64(py)-float64(tileH)/2 + 0.5) / float64(tileH)
		ty0 := int(fy)
		wy := fy - float64(ty0)
		if fy < 0 {
			ty0, wy = 0, 0
		}
		ty1 := ty0 + 1
		if ty1 >= tilesY {
			ty1 = tilesY - 1
			if ty0 >= tilesY {
				ty0 = tilesY - 1
			}
			if ty0 == ty1 {
				wy = 0
			}
		}

		row := py * w
		for px := 0; px < w; px++ {
			fx := (float64(px)-float64(tileW)/2 + 0.5) / float64(tileW)
			tx0 := int(fx)
			wx := fx - float64(tx0)
			if fx < 0 {
				tx0, wx = 0, 0
			}
			tx1 := tx0 + 1
			if tx1 >= tilesX {
				tx1 = tilesX - 1
				if tx0 >= tilesX {
					tx0 = tilesX - 1
				}
				if tx0 == tx1 {
					wx = 0
				}
			}

			v := y[row+px]
			top := (1-wx)*float64(luts[ty0*tilesX+tx0][v]) + wx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-wx)*float64(luts[ty1*tilesX+tx0][v]) + wx*float64(luts[ty1*tilesX+tx1][v])
			out[row+px] = uint8((1-wy)*top + wy*bottom + 0.5)
		}
	}
	return out
}
