package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock records scheduled callbacks; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending counts live timers scheduled with duration d.
func (c *fakeClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every live timer scheduled with duration d.
func (c *fakeClock) fire(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

var errSocketClosed = errors.New("use of closed network connection")

type fakeSocket struct {
	reads chan error
	done  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	writes   []writtenFrame
	writeErr error
}

type writtenFrame struct {
	kind int
	data []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{reads: make(chan error, 4), done: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case err := <-s.reads:
		return 0, nil, err
	case <-s.done:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(kind int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return errSocketClosed
	default:
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, writtenFrame{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// closeWith makes the pending read fail with a close frame carrying code.
func (s *fakeSocket) closeWith(code int) {
	s.reads <- &websocket.CloseError{Code: code, Text: "test"}
}

// failWrites makes every later write fail with err.
func (s *fakeSocket) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *fakeSocket) frames() []writtenFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]writtenFrame(nil), s.writes...)
}

// fakeDialer hands out a fresh fakeSocket per dial, or fails while err is set.
type fakeDialer struct {
	mu      sync.Mutex
	err     error
	dials   int
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}
