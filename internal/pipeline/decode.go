package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Source is a decoded upload.
type Source struct {
	Image       image.Image
	ContentType string
	// Format is the short codec name, "jpeg" or "png".
	Format string
	// Mode names the colour representation, e.g. RGB, RGBA, P.
	Mode string
	// Size is the length of the encoded upload in bytes.
	Size int64
	// Raw holds the upload bytes, kept for EXIF parsing.
	Raw []byte
}

// ReadLimited reads up to maxBytes from r and fails with ErrTooLarge past it.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	// read up to maxBytes+1 to detect overflow
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	if int64(len(data)) > maxBytes {
		return nil, &DecodeError{Err: ErrTooLarge}
	}
	return data, nil
}

// Decode sniffs the content type of data, decodes JPEG or PNG and validates
// dimensions. The declared filename or MIME type is never consulted.
func Decode(data []byte, maxBytes int64) (*Source, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &DecodeError{Err: ErrTooLarge}
	}

	ct := http.DetectContentType(data)

	var format string
	var decodeConfig func(io.Reader) (image.Config, error)
	var decode func(io.Reader) (image.Image, error)

	switch {
	case strings.HasPrefix(ct, "image/jpeg"):
		format, decodeConfig, decode = "jpeg", jpeg.DecodeConfig, jpeg.Decode
	case strings.HasPrefix(ct, "image/png"):
		format, decodeConfig, decode = "png", png.DecodeConfig, png.Decode
	case strings.HasPrefix(ct, "image/"):
		return nil, &DecodeError{ContentType: ct, Err: ErrUnsupportedFormat}
	case isAVIF(data):
		return nil, &DecodeError{ContentType: "image/avif", Err: ErrUnsupportedFormat}
	default:
		return nil, &DecodeError{ContentType: ct, Err: ErrNotAnImage}
	}

	// header first: the pixel buffer is only allocated for accepted sizes
	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{ContentType: ct, Err: errors.Wrap(err, format+".DecodeConfig")}
	}
	if !validDimensions(cfg.Width, cfg.Height) {
		return nil, &DecodeError{ContentType: ct, Err: ErrInvalidDimensions}
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{ContentType: ct, Err: errors.Wrap(err, format+".Decode")}
	}
	if b := img.Bounds(); !validDimensions(b.Dx(), b.Dy()) {
		return nil, &DecodeError{ContentType: ct, Err: ErrInvalidDimensions}
	}

	return &Source{
		Image:       img,
		ContentType: ct,
		Format:      format,
		Mode:        ColorMode(img),
		Size:        int64(len(data)),
		Raw:         data,
	}, nil
}

func validDimensions(w, h int) bool {
	return w > 0 && h > 0 && w <= MaxDimension && h <= MaxDimension
}

// isAVIF recognises the ISO-BMFF "ftypavif" brand, which
// http.DetectContentType does not know about.
func isAVIF(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[4:8]) == "ftyp" && (string(data[8:12]) == "avif" || string(data[8:12]) == "avis")
}

// ColorMode names the colour representation of img.
func ColorMode(img image.Image) string {
	switch img.(type) {
	case *image.Paletted:
		return "P"
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.CMYK:
		return "CMYK"
	case *image.YCbCr:
		return "RGB"
	case *image.RGBA, *image.RGBA64, *image.NRGBA, *image.NRGBA64:
		if Opaque(img) {
			return "RGB"
		}
		return "RGBA"
	}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return "L"
	case color.CMYKModel:
		return "CMYK"
	}
	return "RGBA"
}

// Opaque reports whether every pixel of img is fully opaque.
func Opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
