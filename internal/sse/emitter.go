package sse

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrStreamClosed is returned for any write after the terminal event or after the
// underlying writer failed.
var ErrStreamClosed = errors.New("event stream closed")

const DefaultKeepAliveInterval = 15 * time.Second

var keepAliveFrame = []byte(": keep-alive\n\n")

// Emitter serializes events onto one response body. Exactly one terminal event is
// ever written and it is the last frame; the keep-alive goroutine may write comments
// concurrently with Send.
type Emitter struct {
	mu        sync.Mutex
	w         io.Writer
	flusher   http.Flusher
	closed    bool
	lastWrite time.Time
	now       func() time.Time

	stop chan struct{}
	done chan struct{}
}

func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{w: w, now: time.Now}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	e.lastWrite = e.now()
	return e
}

// SetHeaders prepares an http response for streaming.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// StartKeepAlive writes a keep-alive comment whenever the stream has been silent for
// half the interval, so no gap exceeds interval. interval <= 0 uses the default.
func (e *Emitter) StartKeepAlive(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	e.mu.Lock()
	if e.stop != nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	half := interval / 2
	go func() {
		defer close(done)
		t := time.NewTicker(half)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				e.mu.Lock()
				idle := e.now().Sub(e.lastWrite)
				var err error
				if !e.closed && idle >= half {
					err = e.writeLocked(keepAliveFrame)
				}
				closed := e.closed
				e.mu.Unlock()
				if closed || err != nil {
					return
				}
			}
		}
	}()
}

// KeepAlive writes one keep-alive comment.
func (e *Emitter) KeepAlive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	return e.writeLocked(keepAliveFrame)
}

func (e *Emitter) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	frame := make([]byte, 0, len(data)+32)
	frame = append(frame, "event: "...)
	frame = append(frame, ev.EventName()...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	if ev.Terminal() {
		// даже если запись не удалась, второго терминального события не будет
		defer func() { e.closed = true }()
	}
	return e.writeLocked(frame)
}

func (e *Emitter) Progress(p Progress) error {
	return e.Send(p)
}

func (e *Emitter) Resume(c Checkpoint) error {
	if c.Errors == nil {
		c.Errors = []RecordError{}
	}
	return e.Send(c)
}

func (e *Emitter) Complete(c Complete) error {
	c.Success = true
	if len(c.Errors) == 0 {
		c.Errors = nil
	}
	return e.Send(c)
}

func (e *Emitter) Fail(f Failure) error {
	return e.Send(f)
}

// Closed reports whether a terminal event was written or the writer failed.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close stops the keep-alive goroutine and waits for it. It does not write anything.
func (e *Emitter) Close() {
	e.mu.Lock()
	stop, done := e.stop, e.done
	e.stop = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (e *Emitter) writeLocked(frame []byte) error {
	if _, err := e.w.Write(frame); err != nil {
		e.closed = true
		return errors.Wrap(ErrStreamClosed, err.Error())
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	e.lastWrite = e.now()
	return nil
}
