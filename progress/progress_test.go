package progress

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	mu      sync.Mutex
	release chan struct{}
	events  []*Event
}

func (b *blockingSink) OnEvent(e *Event) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *blockingSink) types() []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := make([]EventType, 0, len(b.events))
	for _, e := range b.events {
		rs = append(rs, e.Type)
	}
	return rs
}

func TestAsyncReporterNeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	r := NewAsyncReporter(sink, 2)
	start := time.Now()
	for i := 0; i < 100; i++ {
		r.OnEvent(&Event{Type: EventPartCompleted, Index: i})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, r.Dropped(), uint64(0))

	close(sink.release)
	r.OnEvent(&Event{Type: EventUploadCompleted})
	r.Close()
	types := sink.types()
	assert.Equal(t, EventUploadCompleted, types[len(types)-1])
	assert.Equal(t, uint64(100), r.Dropped()+uint64(len(types)-1))

	// closed reporter ignores events
	r.OnEvent(&Event{Type: EventUploadFailed})
	assert.Equal(t, len(types), len(sink.types()))
}

func TestAsyncReporterDeliversTerminal(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	r := NewAsyncReporter(sink, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(sink.release)
	}()
	for i := 0; i < 10; i++ {
		r.OnEvent(&Event{Type: EventPartStarted})
	}
	r.OnEvent(&Event{Type: EventUploadFailed, Err: errors.New("boom")})
	r.Close()
	assert.Contains(t, sink.types(), EventUploadFailed)
}

func TestConsoleReporter(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewConsoleReporter(buf)
	now := time.Now()
	r.OnEvent(&Event{Type: EventUploadStarted, Time: now, FilePath: "/tmp/a.bin", ObjectKey: "a.bin", Total: 3 * 1024 * 1024, PartCount: 3, SessionID: "sid"})
	r.OnEvent(&Event{Type: EventPartCompleted, Time: now.Add(time.Second), Index: 0, PartCount: 3, Uploaded: 1024 * 1024, Total: 3 * 1024 * 1024})
	r.OnEvent(&Event{Type: EventUploadFailed, Time: now.Add(2 * time.Second), State: "Failed", SessionID: "sid", Err: errors.New("boom")})
	out := buf.String()
	assert.Contains(t, out, "uploading a.bin -> a.bin (3.0 MiB, 3 parts), session:sid")
	assert.Contains(t, out, "part 1/3 done, 1.0 MiB / 3.0 MiB (33.3%), 1.0 MiB/s")
	assert.Contains(t, out, "upload Failed, session:sid, err:boom")
}

func TestLogReporter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewLogReporter(zap.New(core))
	r.OnEvent(&Event{Type: EventUploadStarted, SessionID: "sid"})
	r.OnEvent(&Event{Type: EventPartCompleted, SessionID: "sid", Index: 1})
	r.OnEvent(&Event{Type: EventUploadFailed, SessionID: "sid", Err: errors.New("boom")})
	entries := logs.All()
	assert.Equal(t, 3, len(entries))
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}

func TestMulti(t *testing.T) {
	var a, b int
	r := Multi(ReporterFunc(func(*Event) { a++ }), ReporterFunc(func(*Event) { b++ }), Nop())
	r.OnEvent(&Event{Type: EventPartStarted})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
