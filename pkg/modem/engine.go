package modem

import (
	"bytes"
	"time"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// mtRetryDelay is how long the session handler waits before reusing the
// last known queue depth after a failed mailbox check.
const mtRetryDelay = 500 * time.Millisecond

// maxMtRetries bounds those reuses per failure streak.
const maxMtRetries = 2

// CheckIO appends newly read bytes to the read buffer and runs one engine
// tick: the pending branch when a command is outstanding, the unsolicited
// branch otherwise. It is normally driven by the listener goroutine.
func (c *Communicator) CheckIO(data []byte) {
	c.inTick.Store(true)
	defer c.inTick.Store(false)

	c.readBuf = append(c.readBuf, data...)
	if c.PendingCommand() != nil {
		c.checkPendingCommand()
	} else {
		c.checkUnsolicited()
	}
}

// checkPendingCommand consumes the response to the outstanding command once
// its terminator (OK, or READY for the write binary handshake) is in the
// buffer.
func (c *Communicator) checkPendingCommand() {
	pending := c.PendingCommand()

	if idx := bytes.Index(c.readBuf, command.OK); idx >= 0 {
		data := c.readBuf[:idx]
		c.readBuf = c.readBuf[idx+len(command.OK):]

		success := true
		events := c.Events()

		switch {
		case bytes.Equal(pending, command.SystemTime):
			sysTime, err := wire.ParseSystemTime(data)
			if err != nil {
				events.Notification(event.KindError, "Could not parse the system time response", err.Error())
				success = false
			} else {
				events.SystemTimeUpdated(sysTime)
			}

		case bytes.Equal(pending, command.SerialNumber):
			sn, err := wire.ParseSerialNumber(data)
			if err != nil {
				events.Notification(event.KindError, "Could not parse the serial number response", err.Error())
				success = false
			} else {
				c.stateMu.Lock()
				c.serialNumber = sn
				c.stateMu.Unlock()
				events.SerialNumberUpdated(sn)
			}

		case bytes.Equal(pending, command.SignalQuality):
			sig, err := wire.ParseSignalQuality(data)
			if err != nil {
				events.Notification(event.KindError, "Could not parse the signal quality response", err.Error())
				success = false
			} else {
				events.SignalQualityUpdated(sig)
			}

		case bytes.Equal(pending, command.CheckRing):
			tri, sri, err := wire.ParseCheckRing(data)
			if err != nil {
				events.Notification(event.KindError, "Could not parse the check ring response", err.Error())
				success = false
			} else {
				events.CheckRingUpdated(tri, sri)
				if sri > 0 && !c.Option("telephone") && c.Option("auto_read") {
					c.QueueSession()
				}
			}

		case bytes.Equal(pending, command.Session):
			success = c.handleSession(data, events)

		case bytes.Equal(pending, command.ReadBinary):
			done, ok := c.handleReadBinary(&data, events)
			if !done {
				// Not enough bytes yet, put everything back and wait for
				// the rest of the binary payload.
				return
			}
			success = ok

		case bytes.HasPrefix(pending, command.WriteBinary):
			ok, err := wire.ParseWriteBinary(data)
			if err != nil {
				events.Notification(event.KindError, "Could not parse the write binary response", err.Error())
				success = false
			} else {
				success = ok
			}

		case bytes.HasPrefix(pending, command.ClearBuffer):
			resp := bytes.ReplaceAll(data, command.ClearMoBuffer, nil)
			resp = bytes.ReplaceAll(resp, command.ClearMtBuffer, nil)
			resp = bytes.ReplaceAll(resp, command.ClearBothBuffers, nil)
			if !bytes.Equal(bytes.TrimSpace(resp), []byte("0")) {
				success = false
			}
		}

		events.CommandFinished(pending, success, data)
		c.clearPending()
		return
	}

	if bytes.Contains(c.readBuf, command.Ready) && !bytes.Equal(pending, command.ReadBinary) {
		idx := bytes.Index(c.readBuf, command.Ready)
		data := c.readBuf[:idx]
		c.readBuf = c.readBuf[idx+len(command.Ready):]

		// READY terminates stage one of the write binary handshake: the
		// payload at the front of the binary queue belongs to the pending
		// command and goes out now with its checksum.
		if bytes.HasPrefix(pending, command.WriteBinary) {
			if message, ok := c.binQueue.Pop(); ok {
				c.writeSerial(append(append([]byte(nil), message...), wire.Checksum(message)...))
			}
		}

		c.Events().CommandFinished(pending, true, data)
		c.clearPending()
	}
}

// handleSession processes a +SBDIX: response and schedules the follow up
// commands: clear the MO buffer after a successful transfer, read the MT
// message when one arrived, run another session while more are queued.
func (c *Communicator) handleSession(data []byte, events *event.Events) bool {
	session, err := wire.ParseSession(data)
	if err != nil {
		events.Notification(event.KindError, "Could not parse the session response", err.Error())
		return false
	}

	if wire.MoStatusOk(session.MoStatus) {
		c.QueueClearMoBuffer()
		events.MessageTransferred(session.MoMsn)
	} else {
		events.Notification(event.KindError, "Message Transfer Failed!", wire.MoStatusText(session.MoStatus))
		events.MessageTransferFailed(session.MoMsn)
	}

	mtQueued := session.MtQueued
	if session.MtStatus == 1 && session.MtLength > 0 {
		c.stateMu.Lock()
		c.lastMtQueued = mtQueued
		c.lastMtRetry = 0
		c.stateMu.Unlock()
		c.QueueReadBinaryMessage()
	} else if session.MtStatus > 1 {
		events.Notification(event.KindError, "Message Receive Failed!", wire.MtStatusText(session.MtStatus))

		// The gateway reported an error. If it previously claimed more
		// queued messages, give it a moment and trust the last count.
		c.stateMu.Lock()
		retry := mtQueued == 0 && c.lastMtQueued > 1 && c.lastMtRetry < maxMtRetries
		if retry {
			c.lastMtRetry++
		}
		lastQueued := c.lastMtQueued
		c.stateMu.Unlock()
		if retry {
			time.Sleep(mtRetryDelay)
			mtQueued = lastQueued
		}
	}

	if mtQueued > 0 && c.Option("auto_read") {
		c.QueueSession()
	}
	return true
}

// handleReadBinary reassembles the binary MT response. "OK" may appear
// inside binary content, so chunks keep being folded back in until the
// framing is complete. Returns done=false when the buffer ran out first.
func (c *Communicator) handleReadBinary(data *[]byte, events *event.Events) (done, ok bool) {
	// Work on a copy: the slice aliases the read buffer, which the loop
	// below keeps consuming.
	*data = append([]byte(nil), *data...)
	for !wire.HasReadBinaryData(*data) {
		idx := bytes.Index(c.readBuf, command.OK)
		if idx < 0 {
			break
		}
		*data = append(append(*data, command.OK...), c.readBuf[:idx]...)
		c.readBuf = c.readBuf[idx+len(command.OK):]
	}

	if !wire.HasReadBinaryData(*data) {
		restored := append(append([]byte(nil), *data...), command.OK...)
		c.readBuf = append(restored, c.readBuf...)
		return false, false
	}

	msgLen, content, checksum, calcCheck, err := wire.ParseReadBinary(*data)
	if err != nil {
		events.Notification(event.KindError, "Could not parse the read binary data", err.Error())
		return true, false
	}

	if msgLen == len(content) && bytes.Equal(calcCheck, checksum) {
		events.MessageReceived(content)
	} else {
		events.MessageReceiveFailed(msgLen, content, checksum, calcCheck)
	}
	return true, true
}

// checkUnsolicited handles the idle engine: ring alerts, draining the
// sequential queue, and bounding the buffer against idle noise.
func (c *Communicator) checkUnsolicited() {
	if idx := bytes.Index(c.readBuf, command.Ring); idx >= 0 {
		c.readBuf = c.readBuf[idx+len(command.Ring):]
		if !c.seqQueue.Contains(command.Session) {
			c.QueueSession()
		}
		return
	}

	if cmd, ok := c.seqQueue.Pop(); ok {
		c.setPending(cmd)
		c.writeSerial(append(append([]byte(nil), cmd...), '\r'))
		// The next bytes belong to this command.
		c.readBuf = nil
		return
	}

	// No pending command and no marker: keep only the tail after the last
	// newline so idle noise cannot grow the buffer without bound.
	if idx := bytes.LastIndexByte(c.readBuf, '\n'); idx >= 0 {
		c.readBuf = c.readBuf[idx+1:]
	}
}
