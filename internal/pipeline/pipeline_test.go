package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcompress/internal/testutil"
)

func decodeResult(t *testing.T, res *Result) image.Image {
	t.Helper()
	img, err := jpeg.Decode(res.Reader())
	require.NoError(t, err, "output should decode as JPEG")
	return img
}

func TestCompress_LargeAlphaPNG(t *testing.T) {
	data := testutil.EncodePNG(t, testutil.AlphaImage(3000, 2000))

	p := DefaultParams()
	res, err := CompressBytes(data, p, 0)
	require.NoError(t, err)

	out := decodeResult(t, res)
	assert.LessOrEqual(t, out.Bounds().Dx(), 1920)
	assert.LessOrEqual(t, out.Bounds().Dy(), 1080)
	assert.Equal(t, 1620, res.Width)
	assert.Equal(t, 1080, res.Height)
	assert.Equal(t, res.Width, out.Bounds().Dx())
	assert.Equal(t, res.Height, out.Bounds().Dy())

	assert.Equal(t, int64(len(data)), res.Metrics.OriginalBytes)
	assert.Equal(t, int64(len(res.Data)), res.Metrics.CompressedBytes)
	want := 100 - float64(len(res.Data))/float64(len(data))*100
	assert.InDelta(t, want, res.Metrics.ReductionPercent(), 1e-9)

	// transparent left half lands on white
	r, g, b, _ := out.At(10, 10).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestCompress_SmallJPEGKeepsDimensions(t *testing.T) {
	data := testutil.EncodeJPEG(t, testutil.GradientImage(800, 600), 95)

	p := DefaultParams()
	p.Quality = 50
	res, err := CompressBytes(data, p, 0)
	require.NoError(t, err)

	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 600, res.Height)
	out := decodeResult(t, res)
	assert.Equal(t, image.Rect(0, 0, 800, 600), out.Bounds())
	assert.Less(t, res.Metrics.CompressedBytes, res.Metrics.OriginalBytes)
}

func TestCompress_PalettedPNG(t *testing.T) {
	data := testutil.EncodePNG(t, testutil.PalettedImage(600, 600))
	res, err := CompressBytes(data, DefaultParams(), 0)
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, 600, out.Bounds().Dx())
}

func TestCompress_AspectRatioPreserved(t *testing.T) {
	sizes := [][2]int{{3000, 2000}, {2000, 3000}, {4001, 999}, {1234, 5678}, {2500, 2500}}
	for _, s := range sizes {
		img := image.NewGray(image.Rect(0, 0, s[0], s[1]))
		res, err := Compress(img, Params{Quality: 60, MaxWidth: 1000, MaxHeight: 700})
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Width, 1000)
		assert.LessOrEqual(t, res.Height, 700)

		in := float64(s[0]) / float64(s[1])
		got := float64(res.Width) / float64(res.Height)
		// one pixel of rounding on the shorter output side
		eps := in / float64(min(res.Width, res.Height))
		assert.InDelta(t, in, got, eps+1e-9, "size %v -> %dx%d", s, res.Width, res.Height)
	}
}

func TestCompress_QualityMonotonic(t *testing.T) {
	img := testutil.GradientImage(320, 240)
	prev := 0
	for _, q := range []int{10, 30, 50, 70, 85, 95} {
		res, err := Compress(img, Params{Quality: q, MaxWidth: 1920, MaxHeight: 1080})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(res.Data), prev, "quality %d shrank output", q)
		prev = len(res.Data)
	}
}

func TestCompress_Deterministic(t *testing.T) {
	data := testutil.EncodePNG(t, testutil.AlphaImage(900, 700))
	p := Params{Quality: 70, MaxWidth: 500, MaxHeight: 500}
	a, err := CompressBytes(data, p, 0)
	require.NoError(t, err)
	b, err := CompressBytes(data, p, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.Data, b.Data))
}

func TestCompress_AutoOrient(t *testing.T) {
	data := testutil.WithEXIFOrientation(t, testutil.EncodeJPEG(t, testutil.GradientImage(400, 200), 90), 6)

	p := DefaultParams()
	res, err := CompressBytes(data, p, 0)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Width)
	assert.Equal(t, 400, res.Height)

	p.AutoOrient = false
	res, err = CompressBytes(data, p, 0)
	require.NoError(t, err)
	assert.Equal(t, 400, res.Width)
	assert.Equal(t, 200, res.Height)
}

func TestCompress_CustomBackground(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16)) // fully transparent
	p := Params{Quality: 95, MaxWidth: 100, MaxHeight: 100, Background: color.Black}
	res, err := Compress(img, p)
	require.NoError(t, err)
	out := decodeResult(t, res)
	r, g, b, _ := out.At(8, 8).RGBA()
	assert.Less(t, r>>8, uint32(16))
	assert.Less(t, g>>8, uint32(16))
	assert.Less(t, b>>8, uint32(16))
}

func TestCompress_InvalidParams(t *testing.T) {
	img := testutil.GradientImage(10, 10)
	for _, p := range []Params{
		{Quality: 0, MaxWidth: 10, MaxHeight: 10},
		{Quality: 101, MaxWidth: 10, MaxHeight: 10},
		{Quality: 50, MaxWidth: 0, MaxHeight: 10},
		{Quality: 50, MaxWidth: 10, MaxHeight: -1},
	} {
		_, err := Compress(img, p)
		assert.True(t, errors.Is(err, ErrInvalidParams), "params %+v: %v", p, err)
	}
}

func TestCompressBytes_DecodeError(t *testing.T) {
	_, err := CompressBytes([]byte("hello"), DefaultParams(), 0)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestCompressBytes_TooLarge(t *testing.T) {
	data := testutil.EncodePNG(t, testutil.GradientImage(64, 64))
	_, err := CompressBytes(data, DefaultParams(), 16)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMetrics(t *testing.T) {
	m := Metrics{OriginalBytes: 2048, CompressedBytes: 512}
	assert.InDelta(t, 2.0, m.OriginalKB(), 1e-9)
	assert.InDelta(t, 0.5, m.CompressedKB(), 1e-9)
	assert.InDelta(t, 75.0, m.ReductionPercent(), 1e-9)

	grown := Metrics{OriginalBytes: 100, CompressedBytes: 150}
	assert.InDelta(t, -50.0, grown.ReductionPercent(), 1e-9)

	assert.Equal(t, 0.0, Metrics{CompressedBytes: 10}.ReductionPercent())
}

func TestParamsClamp(t *testing.T) {
	p := Params{Quality: 3, MaxWidth: 100000, MaxHeight: 10}.Clamp()
	assert.Equal(t, MinQuality, p.Quality)
	assert.Equal(t, MaxBound, p.MaxWidth)
	assert.Equal(t, MinBound, p.MaxHeight)

	d := DefaultParams()
	assert.Equal(t, d, d.Clamp())
	assert.NoError(t, d.Validate())
}

func TestFlatten_Opaque(t *testing.T) {
	out := Flatten(testutil.AlphaImage(10, 10), color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	assert.True(t, out.Opaque())
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, out.RGBAAt(0, 0))
}

func TestNormalize_KeepsRGB(t *testing.T) {
	img := testutil.GradientImage(4, 4)
	assert.Same(t, img, Normalize(img, nil).(*image.RGBA))
}
