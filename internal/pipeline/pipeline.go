package pipeline

import (
	"bytes"
	"image"
)

// Metrics compares the uploaded and the recompressed byte sizes.
type Metrics struct {
	OriginalBytes   int64
	CompressedBytes int64
}

// OriginalKB is the upload size in kilobytes (1024 bytes).
func (m Metrics) OriginalKB() float64 { return float64(m.OriginalBytes) / 1024 }

// CompressedKB is the output size in kilobytes (1024 bytes).
func (m Metrics) CompressedKB() float64 { return float64(m.CompressedBytes) / 1024 }

// ReductionPercent is 100 - compressed/original*100. It is negative when the
// output grew and 0 when the original size is unknown.
func (m Metrics) ReductionPercent() float64 {
	if m.OriginalBytes <= 0 {
		return 0
	}
	return 100 - (float64(m.CompressedBytes) / float64(m.OriginalBytes) * 100)
}

// Result is a recompressed JPEG held in memory.
type Result struct {
	Data    []byte
	Width   int
	Height  int
	Metrics Metrics
}

// Reader returns a reader positioned at the start of the encoded JPEG.
func (r *Result) Reader() *bytes.Reader {
	return bytes.NewReader(r.Data)
}

// Compress normalizes the colour mode of img, downsizes it to fit the
// parameter box and re-encodes it as JPEG. It performs no I/O and keeps no
// state between calls. Metrics.OriginalBytes is left at zero; callers that
// know the upload size fill it in (see CompressBytes).
func Compress(img image.Image, p Params) (*Result, error) {
	if img == nil {
		return nil, &DecodeError{Err: ErrNotAnImage}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	img = Normalize(img, p.Background)
	img = Fit(img, p.MaxWidth, p.MaxHeight)

	var buf bytes.Buffer
	if err := EncodeJPEG(img, &buf, p.Quality); err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Result{
		Data:    buf.Bytes(),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Metrics: Metrics{CompressedBytes: int64(buf.Len())},
	}, nil
}

// CompressBytes runs the whole transform on an encoded upload:
// decode -> orientation -> normalize -> fit -> encode. maxBytes <= 0 disables
// the upload size check.
func CompressBytes(data []byte, p Params, maxBytes int64) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	src, err := Decode(data, maxBytes)
	if err != nil {
		return nil, err
	}
	return CompressSource(src, p)
}

// CompressSource compresses an already decoded upload and accounts sizes
// against the original encoded length.
func CompressSource(src *Source, p Params) (*Result, error) {
	img := src.Image
	if p.AutoOrient && src.Format == "jpeg" {
		img = ApplyEXIFOrientation(img, src.Raw)
	}

	res, err := Compress(img, p)
	if err != nil {
		return nil, err
	}
	res.Metrics.OriginalBytes = src.Size
	return res, nil
}
