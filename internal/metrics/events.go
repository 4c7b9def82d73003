package metrics

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of activity event
type EventType string

const (
	EventCompress    EventType = "compress"
	EventDecodeError EventType = "decode_error"
	EventEncodeError EventType = "encode_error"
	EventRateLimited EventType = "rate_limited"
)

// Logger counts activity in memory. Nothing is persisted; counters reset
// with the process.
type Logger struct {
	started time.Time

	compressions atomic.Int64
	decodeErrors atomic.Int64
	encodeErrors atomic.Int64
	rateLimited  atomic.Int64
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64
	resized      atomic.Int64
}

// New creates a new metrics logger
func New() *Logger {
	return &Logger{started: time.Now().UTC()}
}

// LogEvent records a single event of the given type.
func (l *Logger) LogEvent(eventType EventType) {
	switch eventType {
	case EventCompress:
		l.compressions.Add(1)
	case EventDecodeError:
		l.decodeErrors.Add(1)
	case EventEncodeError:
		l.encodeErrors.Add(1)
	case EventRateLimited:
		l.rateLimited.Add(1)
	default:
		logrus.WithField("event", eventType).Warn("metrics: unknown event type")
	}
}

// LogCompress records a successful compression and its byte sizes.
// resized reports whether the image had to be scaled down.
func (l *Logger) LogCompress(originalBytes, compressedBytes int64, resized bool) {
	l.LogEvent(EventCompress)
	l.bytesIn.Add(originalBytes)
	l.bytesOut.Add(compressedBytes)
	if resized {
		l.resized.Add(1)
	}
}

// Stats holds aggregated metrics
type Stats struct {
	Since           time.Time `json:"since"`
	Compressions    int64     `json:"compressions"`
	Resized         int64     `json:"resized"`
	DecodeErrors    int64     `json:"decode_errors"`
	EncodeErrors    int64     `json:"encode_errors"`
	RateLimited     int64     `json:"rate_limited"`
	BytesIn         int64     `json:"bytes_in"`
	BytesOut        int64     `json:"bytes_out"`
	AverageSavedPct float64   `json:"average_saved_pct"`
}

// GetStats returns a snapshot of the counters.
func (l *Logger) GetStats() *Stats {
	s := &Stats{
		Since:        l.started,
		Compressions: l.compressions.Load(),
		Resized:      l.resized.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		EncodeErrors: l.encodeErrors.Load(),
		RateLimited:  l.rateLimited.Load(),
		BytesIn:      l.bytesIn.Load(),
		BytesOut:     l.bytesOut.Load(),
	}
	if s.BytesIn > 0 {
		s.AverageSavedPct = 100 - (float64(s.BytesOut) / float64(s.BytesIn) * 100)
	}
	return s
}
