// Package tarm is the default serial backend, built on github.com/tarm/serial.
package tarm

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	goserial "github.com/tarm/serial"

	"github.com/justengel/goiridium9602/pkg/sport"
)

func init() {
	sport.RegisterBackend("tarm", New)
}

// pollInterval bounds a single blocking read so ReadLine can honor its own
// deadline.
const pollInterval = 10 * time.Millisecond

type Port struct {
	cfg sport.Config

	mu      sync.Mutex
	port    *goserial.Port
	pending []byte
}

func New(cfg sport.Config) (sport.Port, error) {
	if cfg.Baud == 0 {
		cfg.Baud = sport.DefaultBaud
	}
	return &Port{cfg: cfg}, nil
}

func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	port, err := goserial.OpenPort(&goserial.Config{
		Name:        p.cfg.Name,
		Baud:        p.cfg.Baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return err
	}
	p.port = port
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	p.pending = nil
	return err
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

// ReadLine polls the port until a newline shows up or the timeout elapses,
// returning whatever was collected. Bytes past the newline stay buffered for
// the next call.
func (p *Port) ReadLine(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return nil, errors.New("serial port is not open")
	}

	deadline := time.Now().Add(timeout)
	tmp := make([]byte, 256)
	for {
		if idx := bytes.IndexByte(p.pending, '\n'); idx >= 0 {
			out := p.pending[:idx+1]
			p.pending = p.pending[idx+1:]
			return out, nil
		}
		if !time.Now().Before(deadline) {
			out := p.pending
			p.pending = nil
			return out, nil
		}
		n, err := port.Read(tmp)
		if n > 0 {
			p.pending = append(p.pending, tmp[:n]...)
		}
		if err != nil && n == 0 {
			// tarm reports an expired ReadTimeout as io.EOF on a zero
			// read, anything else is a real transport failure.
			if errors.Is(err, io.EOF) {
				continue
			}
			return p.flush(), err
		}
	}
}

func (p *Port) flush() []byte {
	out := p.pending
	p.pending = nil
	return out
}

func (p *Port) Write(data []byte) error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return errors.New("serial port is not open")
	}
	_, err := port.Write(data)
	return err
}
