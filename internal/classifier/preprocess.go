package classifier

import (
	"image"

	"golang.org/x/image/draw"
)

// Preprocess resizes img to width x height with bilinear filtering and lays
// it out as NHWC float32 RGB with every channel scaled to [0,1].
func Preprocess(img image.Image, width, height int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, width*height*3)
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+4, j+3 {
		out[j+0] = float32(dst.Pix[i+0]) / 255.0
		out[j+1] = float32(dst.Pix[i+1]) / 255.0
		out[j+2] = float32(dst.Pix[i+2]) / 255.0
	}
	return out
}
