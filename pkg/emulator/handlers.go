package emulator

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// checkIncoming answers one '\r' terminated command.
func (s *Server) checkIncoming(cmd []byte) {
	trimmed := bytes.TrimSuffix(cmd, []byte{'\r'})
	s.logger.Debug("rx", "cmd", string(trimmed))

	if bytes.Equal(trimmed, command.RepeatLast) {
		s.echoCommand(cmd)
		if last, ok := s.history.Last(); ok {
			s.silentWrite(last)
		}
		return
	}

	s.record = nil
	switch {
	case bytes.Equal(trimmed, command.Ping):
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.EchoOn):
		s.SetOption("echo", true)
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.EchoOff):
		// Turning echo off is never echoed back.
		s.SetOption("echo", false)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.FlowControlOn):
		s.SetOption("flow_control", true)
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.FlowControlOff):
		s.SetOption("flow_control", false)
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.RingAlertsOn):
		s.SetOption("ring_alerts", true)
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.RingAlertsOff):
		s.SetOption("ring_alerts", false)
		s.echoCommand(cmd)
		s.respond(okLine)

	case bytes.Equal(trimmed, command.ReturnEcho):
		s.echoCommand(cmd)
		value := byte('0')
		if s.Option("echo") {
			value = '1'
		}
		s.respond([]byte{value, '\r', '\n', '\r', '\n'})
		s.respond(okLine)

	case bytes.Equal(trimmed, command.ReturnIdentification):
		s.echoCommand(cmd)
		// 4 identifies the Iridium 9602 family.
		s.respond([]byte("4\r\n\r\n"))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.SystemTime):
		s.echoCommand(cmd)
		s.respond(append(append([]byte("-MSSTM: "), wire.FormatSystemTime(time.Now().UTC())...), '\r', '\n', '\r', '\n'))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.SignalQuality):
		s.echoCommand(cmd)
		s.stateMu.Lock()
		sig := s.signalQuality
		s.stateMu.Unlock()
		s.respond([]byte(fmt.Sprintf("+CSQ:%d\r\n\r\n", sig)))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.SerialNumber):
		s.echoCommand(cmd)
		s.respond([]byte(s.SerialNumber() + "\r\n\r\n"))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.ClearMoBuffer),
		bytes.Equal(trimmed, command.ClearMtBuffer),
		bytes.Equal(trimmed, command.ClearBothBuffers):
		s.echoCommand(cmd)
		s.respond([]byte("0\r\n\r\n"))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.CheckRing):
		s.echoCommand(cmd)
		s.respond([]byte(fmt.Sprintf("+CRIS: 0,%d\r\n\r\n", s.mtQueue.Len())))
		s.respond(okLine)

	case bytes.Equal(trimmed, command.Session):
		s.echoCommand(cmd)
		s.handleSession()

	case bytes.Equal(trimmed, command.ReadBinary):
		// The binary response carries its own echo shaped prefix.
		if message, ok := s.mtQueue.Pop(); ok {
			frame := append([]byte("AT+SBDRB\r"), wire.Frame(message)...)
			s.respond(append(frame, '\r', '\n', '\r', '\n'))
		}
		s.respond(okLine)

	case bytes.HasPrefix(trimmed, command.WriteBinary):
		s.handleWriteBinary(cmd, trimmed[len(command.WriteBinary):])

	default:
		// Unknown but well formed command, acknowledge it.
		s.echoCommand(cmd)
		s.respond(okLine)
	}
	s.history.Push(s.record)
}

// handleSession reports the session six-tuple: mt_status is 1 while MT
// messages wait, mt_len describes the queue head, queue_len what remains
// after this session delivers it.
func (s *Server) handleSession() {
	mtStatus := 0
	mtLen := 0
	queueLen := 0
	if head, ok := s.mtQueue.First(); ok {
		mtStatus = 1
		mtLen = len(head)
		queueLen = s.mtQueue.Len() - 1
	}

	s.stateMu.Lock()
	moStatus := s.moStatus
	counter := s.sessionCounter
	mtMsn := s.mtMsn
	s.sessionCounter = (s.sessionCounter + 1) & 0xffff
	s.mtMsn = (s.mtMsn + 1) & 0xffff
	s.moStatus = 0
	s.stateMu.Unlock()

	s.respond([]byte(fmt.Sprintf("+SBDIX: %d,%d,%d,%d,%d,%d\r\n\r\n",
		moStatus, counter, mtStatus, mtMsn, mtLen, queueLen)))
	s.respond(okLine)
}

// handleWriteBinary runs stage two of AT+SBDWB=<n>: send READY, collect
// n+2 raw bytes (payload plus checksum) from the host and acknowledge with
// the transfer status.
func (s *Server) handleWriteBinary(cmd, lengthField []byte) {
	s.echoCommand(cmd)

	length, err := strconv.Atoi(string(bytes.TrimSpace(lengthField)))
	if err != nil || length < 0 || length > wire.MaxMoLength {
		s.setMoStatus(14)
		s.respondStatus("14")
		return
	}

	s.respond(append(append([]byte(nil), command.Ready...), '\r', '\n'))

	// The payload may contain '\r' and "OK", so it cannot go through the
	// command split loop; collect raw bytes here instead.
	var msg []byte
	deadline := time.Now().Add(writeBinaryWait)
	for len(msg) < length+2 {
		if !time.Now().Before(deadline) {
			s.setMoStatus(18)
			s.respondStatus("18")
			return
		}
		data, err := s.port.ReadLine(s.timeout)
		if err != nil {
			s.setMoStatus(18)
			s.respondStatus("18")
			return
		}
		msg = append(msg, data...)
	}

	contents := msg[:length]
	checksum := msg[length : length+2]
	if bytes.Equal(checksum, wire.Checksum(contents)) {
		if s.messageHandler != nil {
			s.messageHandler(append([]byte(nil), contents...))
		}
		s.setMoStatus(1)
		s.respondStatus("0")
	} else {
		// Nothing distinguishes a bad checksum on the wire, report an RF
		// drop.
		s.setMoStatus(18)
		s.respondStatus("18")
	}
}

func (s *Server) setMoStatus(status int) {
	s.stateMu.Lock()
	s.moStatus = status
	s.stateMu.Unlock()
}

// respondStatus writes the write binary status line followed by OK.
func (s *Server) respondStatus(status string) {
	s.respond([]byte("\r\n" + status + "\r\n\r\n"))
	s.respond(okLine)
}
