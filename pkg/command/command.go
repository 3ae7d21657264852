// Package command holds the AT command dialect spoken by the Iridium 9602
// SBD modem. Commands are raw byte strings sent verbatim followed by '\r'.
package command

import "bytes"

// Responses, never issued as commands.
var (
	OK    = []byte("OK")
	Ring  = []byte("SBDRING")
	Ready = []byte("READY")
)

var (
	Ping = []byte("AT")

	EchoBase = []byte("ATE")
	EchoOn   = []byte("ATE1")
	EchoOff  = []byte("ATE0")

	FlowControlBase = []byte("AT&K")
	FlowControlOn   = []byte("AT&K3")
	FlowControlOff  = []byte("AT&K0")

	RingAlertsBase = []byte("AT+SBDMTA")
	RingAlertsOn   = []byte("AT+SBDMTA=1")
	RingAlertsOff  = []byte("AT+SBDMTA=0")

	SystemTime    = []byte("AT-MSSTM")
	SerialNumber  = []byte("AT+CGSN")
	SignalQuality = []byte("AT+CSQ")
	CheckRing     = []byte("AT+CRIS")

	ClearBuffer      = []byte("AT+SBDD")
	ClearMoBuffer    = []byte("AT+SBDD0")
	ClearMtBuffer    = []byte("AT+SBDD1")
	ClearBothBuffers = []byte("AT+SBDD2")

	Session        = []byte("AT+SBDIX")
	SessionReceive = []byte("+SBDIX:")

	ReadBinary        = []byte("AT+SBDRB")
	ReadBinaryReceive = []byte("AT+SBDRB\r")

	// WriteBinary is a prefix, the message length is appended at call time.
	WriteBinary = []byte("AT+SBDWB=")

	RepeatLast           = []byte("A/")
	ReturnEcho           = []byte("En")
	ReturnIdentification = []byte("In")
)

// All returns every command of the dialect. OK, SBDRING and READY are
// excluded because they are responses.
func All() [][]byte {
	return [][]byte{
		Ping,
		EchoBase, EchoOn, EchoOff,
		FlowControlBase, FlowControlOn, FlowControlOff,
		RingAlertsBase, RingAlertsOn, RingAlertsOff,
		SystemTime, SerialNumber, SignalQuality, CheckRing,
		ClearBuffer, ClearMoBuffer, ClearMtBuffer, ClearBothBuffers,
		Session, SessionReceive,
		ReadBinary, ReadBinaryReceive,
		WriteBinary,
		RepeatLast, ReturnEcho, ReturnIdentification,
	}
}

// IsCommand reports whether data is a known command, with or without the
// trailing '\r'.
func IsCommand(data []byte) bool {
	trimmed := bytes.TrimSuffix(data, []byte{'\r'})
	for _, cmd := range All() {
		if bytes.Equal(data, cmd) || bytes.Equal(trimmed, cmd) {
			return true
		}
	}
	return false
}
