// Package progress carries upload events from the session manager to whatever
// renders them. Reporters must return quickly, slow sinks go behind an
// AsyncReporter.
package progress

import (
	"fmt"
	"time"
)

type EventType int

const (
	EventUploadStarted EventType = iota + 1
	EventUploadResumed
	EventPartStarted
	EventPartCompleted
	EventUploadCompleted
	EventUploadFailed
)

func (t EventType) String() string {
	switch t {
	case EventUploadStarted:
		return "UploadStarted"
	case EventUploadResumed:
		return "UploadResumed"
	case EventPartStarted:
		return "PartStarted"
	case EventPartCompleted:
		return "PartCompleted"
	case EventUploadCompleted:
		return "UploadCompleted"
	case EventUploadFailed:
		return "UploadFailed"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// IsTerminal reports whether the event ends an upload.
func (t EventType) IsTerminal() bool {
	return t == EventUploadCompleted || t == EventUploadFailed
}

type Event struct {
	Type      EventType
	Time      time.Time
	SessionID string
	FilePath  string
	ObjectKey string
	// Index and Attempt are set for part events.
	Index     int
	Attempt   int
	PartSize  int64
	PartCount int
	Uploaded  int64
	Total     int64
	State     string
	Err       error
}

type IReporter interface {
	OnEvent(e *Event)
}

type ReporterFunc func(e *Event)

func (f ReporterFunc) OnEvent(e *Event) {
	f(e)
}

type nopReporter struct{}

func (nopReporter) OnEvent(*Event) {}

func Nop() IReporter {
	return nopReporter{}
}

type multiReporter []IReporter

func (m multiReporter) OnEvent(e *Event) {
	for _, r := range m {
		r.OnEvent(e)
	}
}

// Multi fans events out to every reporter in order.
func Multi(rs ...IReporter) IReporter {
	return multiReporter(rs)
}
