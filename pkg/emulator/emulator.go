// Package emulator implements the modem side of the protocol: a server
// that answers AT commands with byte accurate Iridium 9602 responses.
// It backs the driver tests and doubles as a bench tool for host software.
package emulator

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justengel/goiridium9602/internal/queue"
	"github.com/justengel/goiridium9602/pkg/modem"
	"github.com/justengel/goiridium9602/pkg/sport"
	"github.com/justengel/goiridium9602/pkg/wire"
)

var ErrMessageTooLong = errors.New("message length must be no more than 270 bytes")

const (
	// historySize bounds the command history used by A/ (repeat last).
	historySize = 10
	// writeBinaryWait is the ceiling on waiting for the binary payload
	// after READY was sent.
	writeBinaryWait = 60 * time.Second
)

// DefaultOptions returns the option set of a fresh emulator. It mirrors
// the driver options but trades auto_read for auto_session.
func DefaultOptions() modem.Options {
	return modem.Options{
		"echo":         true,
		"ring_alerts":  true,
		"auto_session": true,
		"flow_control": false,
		"telephone":    false,
	}
}

// Server emulates an Iridium 9602 modem on a serial port.
type Server struct {
	logger *slog.Logger
	port   sport.Port

	optMu sync.RWMutex
	opts  modem.Options

	// readBuf accumulates incoming bytes until a full '\r' terminated
	// command is present. Owned by the listener goroutine.
	readBuf []byte

	// mtQueue holds messages waiting to be delivered to the host.
	mtQueue *queue.Queue
	// history keeps the response bytes of recent commands for A/.
	history *queue.Queue
	// record accumulates the current command's response while handling it.
	record []byte

	stateMu        sync.Mutex
	serialNumber   string
	signalQuality  int
	sessionCounter int
	moStatus       int
	mtMsn          int
	timeout        time.Duration
	connected      bool

	active   atomic.Bool
	listenMu sync.Mutex
	wg       sync.WaitGroup

	// messageHandler receives every MO payload that passes its checksum,
	// where a real modem would forward it to the network.
	messageHandler func(content []byte)
}

// SetMessageHandler installs the hook invoked with each MO payload that
// arrives with a valid checksum.
func (s *Server) SetMessageHandler(handler func(content []byte)) {
	s.messageHandler = handler
}

// New creates a Server bound to the given port.
func New(port sport.Port) *Server {
	return &Server{
		logger:        slog.Default(),
		port:          port,
		opts:          DefaultOptions(),
		mtQueue:       queue.New(100),
		history:       queue.New(historySize),
		serialNumber:  strconv.Itoa(rand.Intn(0x10000)),
		signalQuality: 5,
		timeout:       modem.DefaultTimeout,
	}
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Option returns the value of the named option, case insensitive.
func (s *Server) Option(name string) bool {
	s.optMu.RLock()
	defer s.optMu.RUnlock()
	return s.opts.Get(name)
}

// SetOption sets the named option.
func (s *Server) SetOption(name string, value bool) {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	s.opts.Set(name, value)
}

// SetSignalQuality sets the value reported for AT+CSQ.
func (s *Server) SetSignalQuality(sig int) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.signalQuality = sig
}

// SerialNumber returns the emulated IMEI.
func (s *Server) SerialNumber() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.serialNumber
}

// QueuedMessages returns how many MT messages await delivery.
func (s *Server) QueuedMessages() int {
	return s.mtQueue.Len()
}

// IsConnected reports whether the server is attached to an open port.
func (s *Server) IsConnected() bool {
	s.stateMu.Lock()
	connected := s.connected
	s.stateMu.Unlock()
	return connected && s.port != nil && s.port.IsOpen()
}

// Connect opens the port and starts answering commands. The emulator has
// no handshake of its own.
func (s *Server) Connect() error {
	if s.port == nil {
		return errors.New("no serial port configured")
	}
	if !s.port.IsOpen() {
		if err := s.port.Open(); err != nil {
			return fmt.Errorf("could not open the serial port: %w", err)
		}
	}
	s.StartListener()
	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()
	return nil
}

// Close stops the listener and closes the port.
func (s *Server) Close() error {
	s.active.Store(false)
	s.wg.Wait()
	s.stateMu.Lock()
	s.connected = false
	s.stateMu.Unlock()
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

// StartListener spawns the listener goroutine if none is running.
func (s *Server) StartListener() {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.active.Load() {
		return
	}
	s.active.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen()
	}()
}

func (s *Server) listen() {
	for s.active.Load() {
		if s.port.IsOpen() {
			data, err := s.port.ReadLine(s.timeout)
			if err != nil {
				s.logger.Error("listener closed on read error", "err", err)
				s.active.Store(false)
				return
			}
			s.CheckIO(data)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// CheckIO appends incoming bytes and dispatches every complete '\r'
// terminated command.
func (s *Server) CheckIO(data []byte) {
	s.readBuf = append(s.readBuf, data...)
	for {
		idx := bytes.IndexByte(s.readBuf, '\r')
		if idx < 0 {
			return
		}
		cmd := append([]byte(nil), s.readBuf[:idx+1]...)
		s.readBuf = s.readBuf[idx+1:]
		s.checkIncoming(cmd)
	}
}

// SendMessage queues an MT message (at most 270 bytes) for the host and
// signals it with an unsolicited SBDRING.
func (s *Server) SendMessage(message []byte) error {
	if len(message) > wire.MaxMtLength {
		return ErrMessageTooLong
	}
	s.mtQueue.Push(append([]byte(nil), message...))
	s.silentWrite([]byte("SBDRING\n"))
	return nil
}

// silentWrite writes directly to the port, without echoing or recording.
func (s *Server) silentWrite(msg []byte) {
	if s.port == nil {
		return
	}
	if err := s.port.Write(msg); err != nil {
		s.logger.Error("write failed, closing", "err", err)
		s.active.Store(false)
	}
}

// respond writes a response chunk and records it for A/.
func (s *Server) respond(msg []byte) {
	s.record = append(s.record, msg...)
	s.silentWrite(msg)
}

// echoCommand echoes the received command when the echo option is on.
// cmd still carries its '\r' terminator, so the echo reads "AT...\r\r\n" on
// the wire.
func (s *Server) echoCommand(cmd []byte) {
	if s.Option("echo") {
		s.respond(append(append([]byte(nil), cmd...), '\r', '\n'))
	}
}

var okLine = []byte("OK\r\n")
