package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
)

// Fit reduces img to fit within a maxWidth x maxHeight box, preserving
// aspect ratio with a single scale factor. Does not upscale smaller images.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()
	if w <= 0 || h <= 0 {
		return img
	}

	nw, nh := calculateDimensions(w, h, maxWidth, maxHeight)
	if nw == w && nh == h {
		return img
	}
	// Lanczos for high-quality downsampling.
	return imaging.Resize(img, nw, nh, imaging.Lanczos)
}

// calculateDimensions computes the largest size that fits the box while
// keeping the width:height ratio. The limiting side lands exactly on its
// bound; the other side is rounded to the nearest pixel.
func calculateDimensions(origWidth, origHeight, maxWidth, maxHeight int) (int, int) {
	if origWidth <= 0 || origHeight <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return origWidth, origHeight
	}
	if origWidth <= maxWidth && origHeight <= maxHeight {
		return origWidth, origHeight
	}

	// width ratio is the smaller factor when w/maxW > h/maxH
	if int64(origWidth)*int64(maxHeight) >= int64(origHeight)*int64(maxWidth) {
		newW := maxWidth
		newH := roundDiv(int64(origHeight)*int64(maxWidth), int64(origWidth))
		return newW, bound(newH, maxHeight)
	}
	newH := maxHeight
	newW := roundDiv(int64(origWidth)*int64(maxHeight), int64(origHeight))
	return bound(newW, maxWidth), newH
}

func roundDiv(num, den int64) int {
	return int((2*num + den) / (2 * den))
}

func bound(v, max int) int {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}
