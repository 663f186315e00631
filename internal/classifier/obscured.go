package classifier

import "image"

const (
	obscuredGrid     = 10
	obscuredMinSide  = 50
	obscuredMaxLevel = 10 // 8-bit channel value still counted as black
)

// Obscured reports whether img looks like a secure or blanked surface: every
// pixel on a 10x10 sampling grid is transparent or near black. A nil frame is
// obscured. Frames smaller than 50px on either side are never obscured.
func Obscured(img image.Image) bool {
	if img == nil {
		return true
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < obscuredMinSide || h < obscuredMinSide {
		return false
	}

	stepX, stepY := w/obscuredGrid, h/obscuredGrid
	for x := stepX; x < w; x += stepX {
		for y := stepY; y < h; y += stepY {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a == 0 {
				continue
			}
			if r>>8 > obscuredMaxLevel || g>>8 > obscuredMaxLevel || bl>>8 > obscuredMaxLevel {
				return false
			}
		}
	}
	return true
}
