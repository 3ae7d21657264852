// Package virtual provides an in-memory duplex port pair, primarily used by
// tests and for running the emulator against a driver in the same process.
package virtual

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/justengel/goiridium9602/pkg/sport"
)

func init() {
	sport.RegisterBackend("virtual", New)
}

var ErrClosed = errors.New("virtual port is closed")

// Endpoint is one side of a virtual port pair. Writes land in the peer's
// read buffer.
type Endpoint struct {
	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
	peer   *Endpoint
	open   bool
}

// Pair returns two connected, open endpoints.
func Pair() (*Endpoint, *Endpoint) {
	a := &Endpoint{notify: make(chan struct{}, 1), open: true}
	b := &Endpoint{notify: make(chan struct{}, 1), open: true}
	a.peer = b
	b.peer = a
	return a, b
}

// links holds named pairs so that two processes-worth of code in one binary
// can meet on a channel name, the way a broker would pair them.
var (
	linksMu sync.Mutex
	links   = make(map[string]*Endpoint)
)

// New creates or joins the named pair: the first call for a name returns one
// end, the second call returns the other and clears the name.
func New(cfg sport.Config) (sport.Port, error) {
	linksMu.Lock()
	defer linksMu.Unlock()
	if waiting, ok := links[cfg.Name]; ok {
		delete(links, cfg.Name)
		return waiting, nil
	}
	a, b := Pair()
	links[cfg.Name] = b
	return a, nil
}

func (e *Endpoint) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.open = false
	e.mu.Unlock()
	e.wake()
	if e.peer != nil {
		e.peer.wake()
	}
	return nil
}

func (e *Endpoint) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *Endpoint) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// push appends p to the endpoint's readable bytes.
func (e *Endpoint) push(p []byte) {
	e.mu.Lock()
	e.buf = append(e.buf, p...)
	e.mu.Unlock()
	e.wake()
}

// ReadLine returns bytes up to and including the first newline. When the
// timeout elapses first, everything buffered so far is returned instead.
func (e *Endpoint) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		if !e.open {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		if idx := bytes.IndexByte(e.buf, '\n'); idx >= 0 {
			out := e.buf[:idx+1]
			e.buf = e.buf[idx+1:]
			e.mu.Unlock()
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			out := e.buf
			e.buf = nil
			e.mu.Unlock()
			return out, nil
		}
		e.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-e.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Endpoint) Write(p []byte) error {
	e.mu.Lock()
	open := e.open
	e.mu.Unlock()
	if !open || e.peer == nil {
		return ErrClosed
	}
	if !e.peer.IsOpen() {
		return ErrClosed
	}
	e.peer.push(append([]byte(nil), p...))
	return nil
}
