package pipeline

import (
	"image"
	"image/jpeg"
	"io"

	"github.com/pkg/errors"
)

// EncodeJPEG encodes img as baseline JPEG to w with the given quality (1-100).
// image/jpeg has no Huffman-optimisation switch, so the standard tables are
// used.
func EncodeJPEG(img image.Image, w io.Writer, quality int) error {
	if img == nil {
		return &EncodeError{Err: errors.New("nil image")}
	}
	if w == nil {
		return &EncodeError{Err: errors.New("nil writer")}
	}
	quality = clamp(quality, 1, 100)

	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return &EncodeError{Err: errors.Wrap(err, "jpeg.Encode")}
	}
	return nil
}
