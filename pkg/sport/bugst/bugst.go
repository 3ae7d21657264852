// Package bugst is an alternative serial backend built on go.bug.st/serial,
// useful on platforms where the default backend misbehaves.
package bugst

import (
	"bytes"
	"errors"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/justengel/goiridium9602/pkg/sport"
)

func init() {
	sport.RegisterBackend("bugst", New)
}

const pollInterval = 10 * time.Millisecond

type Port struct {
	cfg sport.Config

	mu      sync.Mutex
	port    goserial.Port
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
	port, err := goserial.Open(p.cfg.Name, &goserial.Mode{
		BaudRate: p.cfg.Baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
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
// returning whatever was collected. A zero read is how the backend reports
// an expired poll.
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
		if err != nil {
			out := p.pending
			p.pending = nil
			return out, err
		}
	}
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
