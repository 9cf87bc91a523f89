package rgb

import (
	"image"

	"golang.org/x/image/draw"
)

// Scale resamples src to the given size, e.g. for thumbnails of decoded
// frames. Aspect ratio is not preserved.
func Scale(src image.Image, width, height int) *RGB {
	dst := NewRGB(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}
