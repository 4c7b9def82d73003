package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smartcompress/internal/logger"
	"smartcompress/internal/metrics"
	"smartcompress/internal/middleware"
	"smartcompress/internal/pipeline"
)

const (
	// multipart parts beyond this spill to temporary files
	formMemory = 32 << 20

	downloadName = "compressed.jpg"
)

var (
	errNoFile       = errors.New("no image uploaded")
	errBusy         = errors.New("server busy")
	errBadMultipart = errors.New("malformed multipart form")
)

// IndexPage is the data for the upload form.
type IndexPage struct {
	CSRFToken string
	Params    pipeline.Params
	MaxMB     int64
	Error     string
	Bounds    pageBounds
}

type pageBounds struct {
	MinQuality, MaxQuality int
	MinSize, MaxSize       int
}

var uiBounds = pageBounds{
	MinQuality: pipeline.MinQuality,
	MaxQuality: pipeline.MaxQuality,
	MinSize:    pipeline.MinBound,
	MaxSize:    pipeline.MaxBound,
}

// ResultPage is the data for the before/after comparison.
type ResultPage struct {
	IndexPage
	Filename       string
	OriginalURL    template.URL
	CompressedURL  template.URL
	OriginalWidth  int
	OriginalHeight int
	Width          int
	Height         int
	Metrics        pipeline.Metrics
	DownloadName   string
}

type apiError struct {
	Error string `json:"error"`
}

// upload is a parsed compress request.
type upload struct {
	Filename     string
	DeclaredType string
	Data         []byte
	Params       pipeline.Params
}

// Index renders the upload form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, h.defaultParams(), "")
}

func (h *Handler) renderIndex(w http.ResponseWriter, r *http.Request, status int, p pipeline.Params, msg string) {
	data := IndexPage{
		CSRFToken: middleware.CSRFToken(r.Context()),
		Params:    p,
		MaxMB:     h.maxUploadBytes() >> 20,
		Error:     msg,
		Bounds:    uiBounds,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.RenderTemplate(w, "index.html", data); err != nil {
		logger.Entry(r.Context()).WithError(err).Error("template render error for index")
	}
}

// CompressPage handles the HTML form post and renders the comparison page.
// Slider values are pulled into the UI range rather than rejected.
func (h *Handler) CompressPage(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(r)
	if err != nil {
		h.compressFailed(r, err)
		h.renderIndex(w, r, statusFor(err), h.defaultParams(), friendlyCompressError(err, h.maxUploadBytes()))
		return
	}
	up.Params = up.Params.Clamp()

	src, res, err := h.run(r.Context(), up)
	if err != nil {
		h.compressFailed(r, err)
		h.renderIndex(w, r, statusFor(err), up.Params, friendlyCompressError(err, h.maxUploadBytes()))
		return
	}

	b := src.Image.Bounds()
	data := ResultPage{
		IndexPage: IndexPage{
			CSRFToken: middleware.CSRFToken(r.Context()),
			Params:    up.Params,
			MaxMB:     h.maxUploadBytes() >> 20,
			Bounds:    uiBounds,
		},
		Filename:       up.Filename,
		OriginalURL:    dataURI(src.ContentType, up.Data),
		CompressedURL:  dataURI("image/jpeg", res.Data),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		Width:          res.Width,
		Height:         res.Height,
		Metrics:        res.Metrics,
		DownloadName:   downloadName,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.RenderTemplate(w, "result.html", data); err != nil {
		logger.Entry(r.Context()).WithError(err).Error("template render error for result")
		http.Error(w, "template render error", http.StatusInternalServerError)
	}
}

// APICompress answers with the JPEG bytes and reports sizes in headers.
// Parameters outside the codec range are rejected with 400.
func (h *Handler) APICompress(w http.ResponseWriter, r *http.Request) {
	up, err := h.readUpload(r)
	if err != nil {
		h.compressFailed(r, err)
		writeJSONError(w, statusFor(err), friendlyCompressError(err, h.maxUploadBytes()))
		return
	}

	_, res, err := h.run(r.Context(), up)
	if err != nil {
		h.compressFailed(r, err)
		writeJSONError(w, statusFor(err), friendlyCompressError(err, h.maxUploadBytes()))
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "image/jpeg")
	hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	hdr.Set("Content-Length", strconv.Itoa(len(res.Data)))
	hdr.Set("X-Original-Size", strconv.FormatInt(res.Metrics.OriginalBytes, 10))
	hdr.Set("X-Compressed-Size", strconv.FormatInt(res.Metrics.CompressedBytes, 10))
	hdr.Set("X-Size-Reduction", strconv.FormatFloat(res.Metrics.ReductionPercent(), 'f', 2, 64))
	hdr.Set("X-Image-Width", strconv.Itoa(res.Width))
	hdr.Set("X-Image-Height", strconv.Itoa(res.Height))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		logger.Entry(r.Context()).WithError(err).Warn("write compressed response")
	}
}

// readUpload pulls the image part and the parameters out of a multipart form.
func (h *Handler) readUpload(r *http.Request) (*upload, error) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(formMemory); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, &pipeline.DecodeError{Err: pipeline.ErrTooLarge}
			}
			return nil, errBadMultipart
		}
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	data, err := pipeline.ReadLimited(file, h.maxUploadBytes())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errNoFile
	}

	p, err := h.parseParams(r)
	if err != nil {
		return nil, err
	}

	return &upload{
		Filename:     fh.Filename,
		DeclaredType: fh.Header.Get("Content-Type"),
		Data:         data,
		Params:       p,
	}, nil
}

func (h *Handler) parseParams(r *http.Request) (pipeline.Params, error) {
	p := h.defaultParams()
	fields := []struct {
		name string
		dst  *int
	}{
		{"quality", &p.Quality},
		{"max_width", &p.MaxWidth},
		{"max_height", &p.MaxHeight},
	}
	for _, f := range fields {
		v := strings.TrimSpace(r.FormValue(f.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("%w: %s must be an integer", pipeline.ErrInvalidParams, f.name)
		}
		*f.dst = n
	}
	return p, nil
}

// run decodes and compresses one upload while holding a transform slot.
func (h *Handler) run(ctx context.Context, up *upload) (*pipeline.Source, *pipeline.Result, error) {
	if err := up.Params.Validate(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := h.jobs.Acquire(ctx, 1); err != nil {
		return nil, nil, errBusy
	}
	defer h.jobs.Release(1)

	log := logger.Entry(ctx)
	start := time.Now()

	src, err := pipeline.Decode(up.Data, h.maxUploadBytes())
	if err != nil {
		return nil, nil, err
	}
	if up.DeclaredType != "" && up.DeclaredType != src.ContentType {
		log.WithFields(logrus.Fields{
			"declared": up.DeclaredType,
			"sniffed":  src.ContentType,
			"filename": up.Filename,
		}).Debug("declared type differs from content")
	}

	res, err := pipeline.CompressSource(src, up.Params)
	if err != nil {
		return nil, nil, err
	}

	b := src.Image.Bounds()
	resized := res.Width != b.Dx() || res.Height != b.Dy()
	h.metrics.LogCompress(res.Metrics.OriginalBytes, res.Metrics.CompressedBytes, resized)

	log.WithFields(logrus.Fields{
		"size":    res.Metrics.CompressedBytes,
		"quality": up.Params.Quality,
		"width":   res.Width,
		"height":  res.Height,
	}).Debug("jpeg encoded")
	log.WithFields(logrus.Fields{
		"format":     src.Format,
		"mode":       src.Mode,
		"quality":    up.Params.Quality,
		"original":   res.Metrics.OriginalBytes,
		"compressed": res.Metrics.CompressedBytes,
		"width":      res.Width,
		"height":     res.Height,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("image compressed")
	return src, res, nil
}

// compressFailed counts and logs a failed request.
func (h *Handler) compressFailed(r *http.Request, err error) {
	var ee *pipeline.EncodeError
	var de *pipeline.DecodeError
	log := logger.Entry(r.Context()).WithError(err)
	switch {
	case errors.As(err, &ee):
		h.metrics.LogEvent(metrics.EventEncodeError)
		log.Error("compress failed")
	case errors.As(err, &de):
		h.metrics.LogEvent(metrics.EventDecodeError)
		log.Warn("upload rejected")
	default:
		log.Warn("compress request rejected")
	}
}

// statusFor maps a compress failure to an HTTP status.
func statusFor(err error) int {
	var ee *pipeline.EncodeError
	switch {
	case errors.Is(err, pipeline.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrNotAnImage), errors.Is(err, pipeline.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errBusy):
		return http.StatusServiceUnavailable
	case errors.As(err, &ee):
		return http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrInvalidDimensions),
		errors.Is(err, pipeline.ErrInvalidParams),
		errors.Is(err, errNoFile),
		errors.Is(err, errBadMultipart):
		return http.StatusBadRequest
	}
	var de *pipeline.DecodeError
	if errors.As(err, &de) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// friendlyCompressError turns a failure into a message for the user.
func friendlyCompressError(err error, maxBytes int64) string {
	var ee *pipeline.EncodeError
	var de *pipeline.DecodeError
	switch {
	case errors.Is(err, pipeline.ErrTooLarge):
		return fmt.Sprintf("File too large. The maximum upload size is %dMB.", maxBytes>>20)
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return "Unsupported file type. Please upload a JPEG or PNG image."
	case errors.Is(err, pipeline.ErrNotAnImage):
		return "That file is not an image. Please upload a JPEG or PNG image."
	case errors.Is(err, pipeline.ErrInvalidDimensions):
		return fmt.Sprintf("Image dimensions are invalid. Width and height must be between 1 and %d pixels.", pipeline.MaxDimension)
	case errors.Is(err, pipeline.ErrInvalidParams):
		return "Invalid settings. Quality must be between 1 and 100 and the maximum width and height must be positive."
	case errors.Is(err, errNoFile):
		return "Please choose an image to upload."
	case errors.Is(err, errBadMultipart):
		return "The upload could not be read. Please try again."
	case errors.Is(err, errBusy):
		return "The server is busy. Please try again in a moment."
	case errors.As(err, &ee):
		return "Compression failed unexpectedly. Please try a different image."
	case errors.As(err, &de):
		return "We couldn't read that image. It may be corrupt or truncated."
	}
	return "Compression failed. Please try again."
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: msg})
}

func dataURI(contentType string, data []byte) template.URL {
	return template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

func formatKB(n int64) string {
	return strconv.FormatFloat(float64(n)/1024, 'f', 1, 64)
}
