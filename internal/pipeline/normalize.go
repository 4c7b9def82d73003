package pipeline

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Normalize converts img into a colour representation JPEG can hold.
// Images with transparency or a palette are composited over bg (white when
// nil) into an opaque RGBA buffer; the alpha channel is lost. RGB and
// greyscale images are returned as is.
func Normalize(img image.Image, bg color.Color) image.Image {
	if img == nil {
		return nil
	}
	switch ColorMode(img) {
	case "RGB", "L":
		return img
	}
	return Flatten(img, bg)
}

// Flatten draws img over an opaque background of colour bg.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	if bg == nil {
		bg = color.White
	}
	// background must be opaque or the result still carries alpha
	opaque := color.NRGBAModel.Convert(bg).(color.NRGBA)
	opaque.A = 0xff

	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opaque), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}
