package pipeline

import (
	"errors"
	"fmt"
	"image/color"
)

var (
	ErrNotAnImage        = errors.New("uploaded file is not an image")
	ErrUnsupportedFormat = errors.New("image format not supported")
	ErrTooLarge          = errors.New("image exceeds size limit")
	ErrInvalidDimensions = errors.New("image dimensions out of range")
	ErrInvalidParams     = errors.New("compression parameters out of range")
)

// Default maximum dimension (width or height) accepted on decode.
const MaxDimension = 12000

// Parameter ranges exposed to users. The codec itself accepts quality 1-100.
const (
	MinQuality     = 10
	MaxQuality     = 95
	DefaultQuality = 85

	MinBound         = 500
	MaxBound         = 4000
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1080
)

// Params controls a single compression.
type Params struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
	// Background is the colour transparent pixels are flattened against.
	// Nil means white.
	Background color.Color
	// AutoOrient applies the EXIF orientation tag before fitting.
	AutoOrient bool
}

// DefaultParams returns the parameters the upload form starts with.
func DefaultParams() Params {
	return Params{
		Quality:    DefaultQuality,
		MaxWidth:   DefaultMaxWidth,
		MaxHeight:  DefaultMaxHeight,
		Background: color.White,
		AutoOrient: true,
	}
}

// Validate checks the codec-level bounds.
func (p Params) Validate() error {
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("%w: quality %d not in [1,100]", ErrInvalidParams, p.Quality)
	}
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		return fmt.Errorf("%w: max size %dx%d must be positive", ErrInvalidParams, p.MaxWidth, p.MaxHeight)
	}
	return nil
}

// Clamp pulls every field into the range the UI offers.
func (p Params) Clamp() Params {
	p.Quality = clamp(p.Quality, MinQuality, MaxQuality)
	p.MaxWidth = clamp(p.MaxWidth, MinBound, MaxBound)
	p.MaxHeight = clamp(p.MaxHeight, MinBound, MaxBound)
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DecodeError reports an upload that could not be turned into pixels.
type DecodeError struct {
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ContentType == "" {
		return "decode: " + e.Err.Error()
	}
	return fmt.Sprintf("decode %s: %v", e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a JPEG codec failure. There is no fallback format.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return "encode jpeg: " + e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }
