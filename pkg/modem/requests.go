package modem

import (
	"strconv"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// requirePort reports an error through the sink when the port is closed.
func (c *Communicator) requirePort() error {
	if !c.IsPortConnected() {
		c.Events().Notification(event.KindError, "Serial port not connected", "The port is closed!")
		return ErrNotConnected
	}
	return nil
}

// QueueCommand schedules cmd on the sequential queue, to be written by the
// listener once the current command completes. Response handlers use this
// for their follow ups; it preserves the pending command register and the
// CommandFinished ordering.
func (c *Communicator) QueueCommand(cmd []byte) {
	if c.muted {
		return
	}
	c.seqQueue.Push(cmd)
}

// Ping sends the bare AT command.
func (c *Communicator) Ping() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.Ping)
	return nil
}

// SetEcho sends the echo configuration command and records the option.
func (c *Communicator) SetEcho(on bool) error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.SetOption("echo", on)
	if on {
		c.writeCommand(command.EchoOn)
	} else {
		c.writeCommand(command.EchoOff)
	}
	return nil
}

// SetFlowControl sends the flow control configuration command and records
// the option.
func (c *Communicator) SetFlowControl(on bool) error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.SetOption("flow_control", on)
	if on {
		c.writeCommand(command.FlowControlOn)
	} else {
		c.writeCommand(command.FlowControlOff)
	}
	return nil
}

// SetRingAlerts sends the ring alert configuration command and records the
// option.
func (c *Communicator) SetRingAlerts(on bool) error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.SetOption("ring_alerts", on)
	if on {
		c.writeCommand(command.RingAlertsOn)
	} else {
		c.writeCommand(command.RingAlertsOff)
	}
	return nil
}

// RequestSystemTime requests the network time. The parsed value arrives
// through Events.SystemTimeUpdated.
func (c *Communicator) RequestSystemTime() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.SystemTime)
	return nil
}

// QueueSystemTime schedules a system time request.
func (c *Communicator) QueueSystemTime() {
	c.QueueCommand(command.SystemTime)
}

// RequestSerialNumber requests the IMEI. The value arrives through
// Events.SerialNumberUpdated and is cached on the Communicator.
func (c *Communicator) RequestSerialNumber() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.SerialNumber)
	return nil
}

// QueueSerialNumber schedules an IMEI request.
func (c *Communicator) QueueSerialNumber() {
	c.QueueCommand(command.SerialNumber)
}

// RequestSignalQuality requests the signal strength, 0 to 5 with 2 as the
// usable threshold. The value arrives through Events.SignalQualityUpdated.
func (c *Communicator) RequestSignalQuality() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.SignalQuality)
	return nil
}

// QueueSignalQuality schedules a signal quality request.
func (c *Communicator) QueueSignalQuality() {
	c.QueueCommand(command.SignalQuality)
}

// CheckRing asks the modem whether a ring alert was received. The
// indicators arrive through Events.CheckRingUpdated.
func (c *Communicator) CheckRing() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.CheckRing)
	return nil
}

// QueueCheckRing schedules a check ring request.
func (c *Communicator) QueueCheckRing() {
	c.QueueCommand(command.CheckRing)
}

// ClearMoBuffer clears the mobile originated transmit buffer.
func (c *Communicator) ClearMoBuffer() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.ClearMoBuffer)
	return nil
}

// QueueClearMoBuffer schedules clearing the MO buffer.
func (c *Communicator) QueueClearMoBuffer() {
	c.QueueCommand(command.ClearMoBuffer)
}

// ClearMtBuffer clears the mobile terminated receive buffer.
func (c *Communicator) ClearMtBuffer() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.ClearMtBuffer)
	return nil
}

// QueueClearMtBuffer schedules clearing the MT buffer.
func (c *Communicator) QueueClearMtBuffer() {
	c.QueueCommand(command.ClearMtBuffer)
}

// ClearBothBuffers clears the MO and MT buffers.
func (c *Communicator) ClearBothBuffers() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.ClearBothBuffers)
	return nil
}

// QueueClearBothBuffers schedules clearing both buffers.
func (c *Communicator) QueueClearBothBuffers() {
	c.QueueCommand(command.ClearBothBuffers)
}

// InitiateSession starts an SBD session: any MO message is transmitted and
// one MT message is retrieved if available.
func (c *Communicator) InitiateSession() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.Session)
	return nil
}

// CheckMessage checks for an MT message by running a session.
func (c *Communicator) CheckMessage() error {
	return c.InitiateSession()
}

// QueueSession schedules a session.
func (c *Communicator) QueueSession() {
	c.QueueCommand(command.Session)
}

// ReadBinaryMessage requests the MT buffer contents in binary framing. The
// content arrives through Events.MessageReceived or MessageReceiveFailed.
func (c *Communicator) ReadBinaryMessage() error {
	if err := c.requirePort(); err != nil {
		return err
	}
	c.writeCommand(command.ReadBinary)
	return nil
}

// QueueReadBinaryMessage schedules a binary read.
func (c *Communicator) QueueReadBinaryMessage() {
	c.QueueCommand(command.ReadBinary)
}

// writeBinaryCommand builds AT+SBDWB=<n> for an n byte payload.
func writeBinaryCommand(n int) []byte {
	return append(append([]byte(nil), command.WriteBinary...), []byte(strconv.Itoa(n))...)
}

// SendMessage queues message (at most 340 bytes) for transmission and
// starts the write binary handshake. The payload and its checksum go out
// when the modem answers READY; run a session afterwards to transfer it.
func (c *Communicator) SendMessage(message []byte) error {
	if err := c.requirePort(); err != nil {
		return err
	}
	if len(message) > wire.MaxMoLength {
		return ErrMessageTooLong
	}
	c.binQueue.Push(message)
	c.writeCommand(writeBinaryCommand(len(message)))
	return nil
}

// QueueSendMessage schedules the write binary handshake for message.
func (c *Communicator) QueueSendMessage(message []byte) error {
	if err := c.requirePort(); err != nil {
		return err
	}
	if len(message) > wire.MaxMoLength {
		return ErrMessageTooLong
	}
	c.binQueue.Push(message)
	c.QueueCommand(writeBinaryCommand(len(message)))
	return nil
}
