package progress

import (
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 256

// AsyncReporter hands events to a sink on its own goroutine. When the queue is
// full non-terminal events are dropped, terminal events wait for room.
type AsyncReporter struct {
	sink    IReporter
	ch      chan *Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewAsyncReporter(sink IReporter, queue int) *AsyncReporter {
	if queue <= 0 {
		queue = defaultQueueSize
	}
	r := &AsyncReporter{
		sink: sink,
		ch:   make(chan *Event, queue),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *AsyncReporter) loop() {
	defer close(r.done)
	for e := range r.ch {
		r.sink.OnEvent(e)
	}
}

func (r *AsyncReporter) OnEvent(e *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if e.Type.IsTerminal() {
		r.ch <- e
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded on a full queue.
func (r *AsyncReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are rendered.
func (r *AsyncReporter) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	<-r.done
}
