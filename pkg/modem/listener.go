package modem

import (
	"bytes"
	"sync"
	"time"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/event"
)

// waiterTick is the poll slice of the blocking helpers.
const waiterTick = time.Millisecond

// IsListening reports whether a listener is actively pumping the port.
func (c *Communicator) IsListening() bool {
	return c.active.Load()
}

// Listen pumps bytes from the serial port into the engine until
// StopListening. It should run on its own goroutine; at most one listener
// may run per Communicator.
func (c *Communicator) Listen() error {
	c.listenMu.Lock()
	if c.active.Load() {
		c.listenMu.Unlock()
		return ErrAlreadyListening
	}
	c.active.Store(true)
	c.listenMu.Unlock()

	for c.active.Load() {
		if c.IsPortConnected() {
			// inTick covers the read as well, so a transport failure in
			// readSerial never joins the listener from itself.
			c.inTick.Store(true)
			c.CheckIO(c.readSerial())
		} else {
			// Yield while the port is closed.
			time.Sleep(waiterTick)
		}
	}
	return nil
}

// StartListener spawns the listener goroutine if none is running.
func (c *Communicator) StartListener() {
	c.listenMu.Lock()
	if c.listening || c.active.Load() {
		c.listenMu.Unlock()
		return
	}
	c.listening = true
	c.listenMu.Unlock()

	c.Events().Notification(event.KindWarning,
		"No threads are listening for responses. A thread will be created", "")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.listenMu.Lock()
			c.listening = false
			c.listenMu.Unlock()
		}()
		if err := c.Listen(); err != nil {
			c.logger.Error("listener exited", "err", err)
		}
	}()
}

// StopListening clears the listening flag and joins the listener, unless
// called from inside its own tick.
func (c *Communicator) StopListening() {
	c.active.Store(false)
	if !c.inTick.Load() {
		c.wg.Wait()
	}
}

// WaitForCommand scopes one command exchange: it waits for the previous
// command and the sequential queue to drain, runs body (which typically
// writes one command), then waits for that command to finish.
//
// Timing out is not an error; callers detect it by observing that
// PendingCommand is still non nil afterwards.
func (c *Communicator) WaitForCommand(waitTime, waitForPrevious time.Duration, body func()) {
	deadline := time.Now().Add(waitForPrevious)
	for (c.PendingCommand() != nil || c.seqQueue.Len() > 0) && time.Now().Before(deadline) {
		time.Sleep(waiterTick)
	}

	body()

	deadline = time.Now().Add(waitTime)
	for c.PendingCommand() != nil && time.Now().Before(deadline) {
		time.Sleep(waiterTick)
	}
}

// acquireResponse transmits cmd and blocks until its value arrives. The
// updater callbacks are swapped for collectors while the command runs, so
// concurrent updates from other sources are not observable during the call.
func (c *Communicator) acquireResponse(cmd []byte, waitTime, waitForPrevious time.Duration) (any, error) {
	old := c.Events()

	// The collectors run on the listener goroutine.
	var mu sync.Mutex
	var values []any
	collect := func(v any) {
		mu.Lock()
		values = append(values, v)
		mu.Unlock()
	}

	// Copy the sink and replace only the updaters. CommandFinished doubles
	// as the collector for commands without a dedicated updater.
	swapped := *old
	swapped.SystemTimeUpdated = func(sysTime int64) { collect(sysTime) }
	swapped.SerialNumberUpdated = func(sn string) { collect(sn) }
	swapped.SignalQualityUpdated = func(sig int) { collect(sig) }
	swapped.CheckRingUpdated = func(tri, sri int) { collect([2]int{tri, sri}) }
	swapped.CommandFinished = func(fcmd []byte, ok bool, contents []byte) {
		mu.Lock()
		if ok && bytes.Equal(fcmd, cmd) && len(values) == 0 {
			values = append(values, contents)
		}
		mu.Unlock()
		old.CommandFinished(fcmd, ok, contents)
	}
	c.SetEvents(&swapped)
	defer c.SetEvents(old)

	c.WaitForCommand(waitTime, waitForPrevious, func() {
		c.writeCommand(cmd)
	})

	mu.Lock()
	defer mu.Unlock()
	if len(values) == 0 {
		return nil, ErrNoResponse
	}
	return values[len(values)-1], nil
}

// AcquireSystemTime requests AT-MSSTM and blocks for the parsed value.
func (c *Communicator) AcquireSystemTime(waitTime, waitForPrevious time.Duration) (int64, error) {
	v, err := c.acquireResponse(command.SystemTime, waitTime, waitForPrevious)
	if err != nil {
		return 0, err
	}
	sysTime, ok := v.(int64)
	if !ok {
		return 0, ErrNoResponse
	}
	return sysTime, nil
}

// AcquireSerialNumber requests AT+CGSN and blocks for the IMEI.
func (c *Communicator) AcquireSerialNumber(waitTime, waitForPrevious time.Duration) (string, error) {
	v, err := c.acquireResponse(command.SerialNumber, waitTime, waitForPrevious)
	if err != nil {
		return "", err
	}
	sn, ok := v.(string)
	if !ok {
		return "", ErrNoResponse
	}
	return sn, nil
}

// AcquireSignalQuality requests AT+CSQ and blocks for the 0 to 5 value.
func (c *Communicator) AcquireSignalQuality(waitTime, waitForPrevious time.Duration) (int, error) {
	v, err := c.acquireResponse(command.SignalQuality, waitTime, waitForPrevious)
	if err != nil {
		return 0, err
	}
	sig, ok := v.(int)
	if !ok {
		return 0, ErrNoResponse
	}
	return sig, nil
}

// AcquireRing requests AT+CRIS and blocks for the telephone and SBD ring
// indicators.
func (c *Communicator) AcquireRing(waitTime, waitForPrevious time.Duration) (tri, sri int, err error) {
	v, err := c.acquireResponse(command.CheckRing, waitTime, waitForPrevious)
	if err != nil {
		return 0, 0, err
	}
	pair, ok := v.([2]int)
	if !ok {
		return 0, 0, ErrNoResponse
	}
	return pair[0], pair[1], nil
}

// AcquireMessage runs a session and blocks until the MT message it reports
// has been read back. The auto_read option is suspended for the duration so
// only one message is pulled.
func (c *Communicator) AcquireMessage(waitTime, waitForPrevious time.Duration) ([]byte, error) {
	oldRead := c.Option("auto_read")
	old := c.Events()

	var mu sync.Mutex
	var values [][]byte
	swapped := *old
	swapped.MessageReceived = func(content []byte) {
		mu.Lock()
		values = append(values, content)
		mu.Unlock()
	}
	swapped.MessageReceiveFailed = func(msgLen int, content, checksum, calcCheck []byte) {
		mu.Lock()
		values = append(values, content)
		mu.Unlock()
	}

	c.SetOption("auto_read", false)
	c.SetEvents(&swapped)
	defer func() {
		c.SetEvents(old)
		c.SetOption("auto_read", oldRead)
	}()

	// Wait out the previous command, then run a session and wait for its
	// follow ups (clear buffer, read binary) to drain too.
	deadline := time.Now().Add(waitForPrevious)
	for (c.PendingCommand() != nil || c.seqQueue.Len() > 0) && time.Now().Before(deadline) {
		time.Sleep(waiterTick)
	}

	c.writeCommand(command.Session)

	deadline = time.Now().Add(waitTime)
	for (c.PendingCommand() != nil || c.seqQueue.Len() > 0) && time.Now().Before(deadline) {
		time.Sleep(waiterTick)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(values) == 0 {
		return nil, ErrNoResponse
	}
	return values[len(values)-1], nil
}
