package pipeline

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation returns the EXIF orientation tag of an encoded image, or 1
// when the data carries no readable tag.
func Orientation(data []byte) int {
	if len(data) == 0 {
		return 1
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// Not a fatal error for PNGs or images without EXIF
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orient, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orient
}

// ApplyEXIFOrientation rotates/flips img according to the EXIF orientation
// found in data. Images without EXIF are returned unchanged.
func ApplyEXIFOrientation(img image.Image, data []byte) image.Image {
	return orientationTransform(img, Orientation(data))
}

// orientationTransform applies the necessary flip/rotation for EXIF orientation
// values 1-8. Unknown values return the original image.
func orientationTransform(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		// transpose
		return imaging.Transpose(img)
	case 6:
		// 90 CW; imaging rotates counter-clockwise
		return imaging.Rotate270(img)
	case 7:
		// transverse
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
