package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type consoleReporter struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

// NewConsoleReporter prints one human readable line per event.
func NewConsoleReporter(w io.Writer) IReporter {
	return &consoleReporter{w: w}
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) * 100 / float64(total)
}

func (c *consoleReporter) speed(done int64, now time.Time) string {
	cost := now.Sub(c.start)
	if c.start.IsZero() || cost <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(float64(done)/cost.Seconds())) + "/s"
}

func (c *consoleReporter) OnEvent(e *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := e.Time
	if now.IsZero() {
		now = time.Now()
	}
	switch e.Type {
	case EventUploadStarted, EventUploadResumed:
		c.start = now
		verb := "uploading"
		if e.Type == EventUploadResumed {
			verb = "resuming"
		}
		fmt.Fprintf(c.w, "%s %s -> %s (%s, %d parts), session:%s\n", verb, filepath.Base(e.FilePath), e.ObjectKey,
			humanize.IBytes(uint64(e.Total)), e.PartCount, e.SessionID)
	case EventPartStarted:
		if e.Attempt > 1 {
			fmt.Fprintf(c.w, "part %d/%d retry, attempt:%d\n", e.Index+1, e.PartCount, e.Attempt)
		}
	case EventPartCompleted:
		fmt.Fprintf(c.w, "part %d/%d done, %s / %s (%.1f%%), %s\n", e.Index+1, e.PartCount,
			humanize.IBytes(uint64(e.Uploaded)), humanize.IBytes(uint64(e.Total)), percent(e.Uploaded, e.Total), c.speed(e.Uploaded, now))
	case EventUploadCompleted:
		fmt.Fprintf(c.w, "upload completed, %s in %s\n", humanize.IBytes(uint64(e.Total)), now.Sub(c.start).Round(time.Millisecond))
	case EventUploadFailed:
		fmt.Fprintf(c.w, "upload %s, session:%s, err:%v\n", e.State, e.SessionID, e.Err)
	}
}

type logReporter struct {
	logger *zap.Logger
}

// NewLogReporter writes events as structured log lines, part events at debug level.
func NewLogReporter(logger *zap.Logger) IReporter {
	return &logReporter{logger: logger}
}

func (l *logReporter) OnEvent(e *Event) {
	fields := []zap.Field{
		zap.String("event", e.Type.String()),
		zap.String("session_id", e.SessionID),
	}
	switch e.Type {
	case EventPartStarted, EventPartCompleted:
		fields = append(fields, zap.Int("index", e.Index), zap.Int("attempt", e.Attempt), zap.Int64("uploaded", e.Uploaded), zap.Int64("total", e.Total))
		l.logger.Debug("upload progress", fields...)
	case EventUploadFailed:
		fields = append(fields, zap.String("state", e.State), zap.Error(e.Err))
		l.logger.Error("upload failed", fields...)
	default:
		fields = append(fields, zap.String("file", e.FilePath), zap.String("key", e.ObjectKey), zap.Int64("total", e.Total), zap.Int("part_count", e.PartCount))
		l.logger.Info("upload progress", fields...)
	}
}
