// Package modem implements the host side protocol engine for the Iridium
// 9602 SBD modem: the pending command state machine, the sequential and
// binary write queues, the background listener and the blocking acquire
// helpers on top of it.
package modem

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justengel/goiridium9602/internal/queue"
	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/sport"
)

var (
	ErrConnect          = errors.New("could not connect")
	ErrNotConnected     = errors.New("serial port is not connected")
	ErrAlreadyListening = errors.New("there is already a listener running")
	ErrNoResponse       = errors.New("the command timed out or completed without returning a proper value")
	ErrMessageTooLong   = errors.New("message length must be no more than 340 bytes")
)

const (
	// DefaultTimeout bounds a single listener read.
	DefaultTimeout = 10 * time.Millisecond
	// DefaultConnectTimeout bounds each step of the connect handshake.
	DefaultConnectTimeout = 2 * time.Second

	queueSize = 100
)

// Communicator drives an Iridium 9602 modem over a serial port.
//
// One background listener goroutine owns all reads and engine transitions;
// request methods may be called from any goroutine. Callers that issue
// request commands back to back must scope them with WaitForCommand or use
// the Acquire helpers, because the modem handles at most one outstanding
// command.
type Communicator struct {
	logger *slog.Logger
	port   sport.Port

	evMu   sync.Mutex
	events *event.Events

	optMu sync.RWMutex
	opts  Options

	// pending is the at-most-one outstanding command register.
	pendMu  sync.Mutex
	pending []byte

	// readBuf is owned exclusively by the listener tick path.
	readBuf []byte

	// seqQueue holds commands scheduled to run after the current one,
	// binQueue holds MO payloads awaiting their READY handshake.
	seqQueue *queue.Queue
	binQueue *queue.Queue

	stateMu        sync.Mutex
	connected      bool
	serialNumber   string
	lastMtQueued   int
	lastMtRetry    int
	timeout        time.Duration
	connectTimeout time.Duration

	active    atomic.Bool
	inTick    atomic.Bool
	listenMu  sync.Mutex
	listening bool
	wg        sync.WaitGroup

	// muted suppresses writes and follow up scheduling during log replay.
	muted bool
}

// New creates a Communicator bound to the given port. The port is not
// opened until Connect.
func New(port sport.Port) *Communicator {
	c := &Communicator{
		logger:         slog.Default(),
		port:           port,
		opts:           DefaultOptions(),
		seqQueue:       queue.New(queueSize),
		binQueue:       queue.New(queueSize),
		timeout:        DefaultTimeout,
		connectTimeout: DefaultConnectTimeout,
	}
	events := &event.Events{}
	events.Fill(c.logger)
	c.events = events
	return c
}

// SetLogger replaces the logger used by the engine and by the default
// callbacks of sinks installed afterwards with SetEvents. The sink already
// installed keeps the logger it was filled with.
func (c *Communicator) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetEvents installs the event sink. Nil callbacks are replaced with no-ops.
func (c *Communicator) SetEvents(events *event.Events) {
	if events == nil {
		events = &event.Events{}
	}
	events.Fill(c.logger)
	c.evMu.Lock()
	c.events = events
	c.evMu.Unlock()
}

// Events returns the currently installed event sink.
func (c *Communicator) Events() *event.Events {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	return c.events
}

// SetPort replaces the serial port. Only sensible before Connect.
func (c *Communicator) SetPort(port sport.Port) {
	c.port = port
}

// Port returns the serial port handle.
func (c *Communicator) Port() sport.Port {
	return c.port
}

// Timeout returns the listener read timeout. A larger timeout has a higher
// chance of catching a response in one read, but slows every idle loop.
func (c *Communicator) Timeout() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.timeout
}

// SetTimeout sets the listener read timeout.
func (c *Communicator) SetTimeout(d time.Duration) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.timeout = d
}

// ConnectTimeout returns the per step timeout of the connect handshake.
func (c *Communicator) ConnectTimeout() time.Duration {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connectTimeout
}

// SetConnectTimeout sets the per step timeout of the connect handshake.
func (c *Communicator) SetConnectTimeout(d time.Duration) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.connectTimeout = d
}

// SerialNumber returns the cached IMEI, populated after the first
// successful AT+CGSN response.
func (c *Communicator) SerialNumber() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.serialNumber
}

// Imei is an alias for SerialNumber.
func (c *Communicator) Imei() string {
	return c.SerialNumber()
}

// PendingCommand returns the outstanding command, nil when idle.
func (c *Communicator) PendingCommand() []byte {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return c.pending
}

// setPending registers cmd as the outstanding command. An abandoned command
// is reported as finished unsuccessfully.
func (c *Communicator) setPending(cmd []byte) {
	c.pendMu.Lock()
	previous := c.pending
	c.pending = cmd
	c.pendMu.Unlock()
	if previous != nil {
		c.Events().CommandFinished(previous, false, nil)
	}
}

// clearPending drops the register without firing CommandFinished; the engine
// fires it itself with the parsed payload.
func (c *Communicator) clearPending() {
	c.pendMu.Lock()
	c.pending = nil
	c.pendMu.Unlock()
}

// IsPortConnected reports whether the serial port is open.
func (c *Communicator) IsPortConnected() bool {
	return c.port != nil && c.port.IsOpen()
}

// IsConnected reports whether the modem handshake completed and the port is
// still open.
func (c *Communicator) IsConnected() bool {
	c.stateMu.Lock()
	connected := c.connected
	c.stateMu.Unlock()
	return connected && c.IsPortConnected()
}

func (c *Communicator) setConnected(v bool) {
	c.stateMu.Lock()
	c.connected = v
	c.stateMu.Unlock()
}

// Connect opens the serial port, starts a listener if none is running,
// configures echo, flow control and ring alerts, then verifies the modem
// with a double ping.
func (c *Communicator) Connect() error {
	events := c.Events()
	events.Connecting()

	if c.port == nil {
		return fmt.Errorf("%w: no serial port configured", ErrConnect)
	}
	if !c.port.IsOpen() {
		if err := c.port.Open(); err != nil {
			return fmt.Errorf("%w: the serial port would not open: %v", ErrConnect, err)
		}
	}

	if !c.IsListening() {
		c.StartListener()
	}

	if !c.configureConnectionOptions() {
		return fmt.Errorf("%w: could not configure the port options", ErrConnect)
	}

	// Ping twice, the first response may carry leftovers from power up.
	for i := 0; i < 2; i++ {
		c.WaitForCommand(c.ConnectTimeout(), 0, func() {
			c.Ping()
		})
		if c.PendingCommand() != nil {
			c.Close()
			return fmt.Errorf("%w: the ping did not find a response", ErrConnect)
		}
	}

	c.setConnected(true)
	events.Connected()
	return nil
}

// SilentConnect opens the port without configuring or pinging the modem.
func (c *Communicator) SilentConnect() error {
	events := c.Events()
	events.Connecting()
	if c.port == nil {
		return fmt.Errorf("%w: no serial port configured", ErrConnect)
	}
	if !c.port.IsOpen() {
		if err := c.port.Open(); err != nil {
			return fmt.Errorf("%w: the serial port would not open: %v", ErrConnect, err)
		}
	}
	c.setConnected(true)
	events.Connected()
	return nil
}

// configureConnectionOptions sends the echo, flow control and ring alert
// configuration commands, each in its own wait scope.
func (c *Communicator) configureConnectionOptions() bool {
	c.WaitForCommand(c.ConnectTimeout(), 0, func() {
		c.SetEcho(c.Option("echo"))
	})
	if c.PendingCommand() != nil {
		return false
	}
	c.WaitForCommand(c.ConnectTimeout(), 0, func() {
		c.SetFlowControl(c.Option("flow_control"))
	})
	if c.PendingCommand() != nil {
		return false
	}
	c.WaitForCommand(c.ConnectTimeout(), 0, func() {
		c.SetRingAlerts(c.Option("ring_alerts"))
	})
	return c.PendingCommand() == nil
}

// Close stops the listener and closes the serial port. Every step is best
// effort: a failing step is reported and the teardown continues.
func (c *Communicator) Close() error {
	events := c.Events()
	events.Disconnecting()

	c.StopListening()

	if c.port != nil {
		if err := c.port.Close(); err != nil {
			events.Notification(event.KindError, "Error when closing the serial port", err.Error())
		}
	}
	c.setConnected(false)

	events.Disconnected()
	return nil
}

// readSerial reads one line from the port. A transport failure closes the
// connection; the pending command, if any, is not retried.
func (c *Communicator) readSerial() []byte {
	data, err := c.port.ReadLine(c.Timeout())
	if err != nil {
		c.Events().Notification(event.KindError,
			"Error when reading from the serial port! The connection will be closed!", err.Error())
		c.closeAsync()
		return nil
	}
	return data
}

// writeSerial writes raw bytes to the port with the same failure policy as
// readSerial.
func (c *Communicator) writeSerial(msg []byte) {
	if c.muted {
		return
	}
	c.logger.Debug("tx", "bytes", msg)
	if err := c.port.Write(msg); err != nil {
		c.Events().Notification(event.KindError,
			"Error when writing to the serial port! The connection will be closed!", err.Error())
		c.closeAsync()
	}
}

// closeAsync tears the connection down without joining the listener from
// inside its own tick.
func (c *Communicator) closeAsync() {
	if c.inTick.Load() {
		go c.Close()
		return
	}
	c.Close()
}

// writeCommand registers cmd as pending and transmits it with the '\r'
// terminator.
func (c *Communicator) writeCommand(cmd []byte) {
	c.setPending(cmd)
	c.writeSerial(append(append([]byte(nil), cmd...), '\r'))
}
