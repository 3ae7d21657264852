package emulator

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/justengel/goiridium9602/pkg/sport/virtual"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// createServerTest returns a running emulator and the host side endpoint.
func createServerTest(t *testing.T) (*Server, *virtual.Endpoint) {
	t.Helper()
	host, modemSide := virtual.Pair()
	server := New(modemSide)
	assert.Nil(t, server.Connect())
	t.Cleanup(func() {
		server.Close()
		host.Close()
	})
	return server, host
}

// readResponse collects response bytes until marker shows up or the
// deadline passes.
func readResponse(t *testing.T, host *virtual.Endpoint, marker string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var buf []byte
	for time.Now().Before(deadline) {
		chunk, err := host.ReadLine(10 * time.Millisecond)
		assert.Nil(t, err)
		buf = append(buf, chunk...)
		if bytes.Contains(buf, []byte(marker)) {
			return buf
		}
	}
	return buf
}

func TestPingAndEcho(t *testing.T) {
	_, host := createServerTest(t)

	assert.Nil(t, host.Write([]byte("AT\r")))
	resp := readResponse(t, host, "OK")
	assert.Equal(t, "AT\r\r\nOK\r\n", string(resp))

	// Echo off suppresses the echo, including on the ATE0 itself.
	assert.Nil(t, host.Write([]byte("ATE0\r")))
	resp = readResponse(t, host, "OK")
	assert.Equal(t, "OK\r\n", string(resp))

	assert.Nil(t, host.Write([]byte("AT\r")))
	resp = readResponse(t, host, "OK")
	assert.Equal(t, "OK\r\n", string(resp))
}

func TestSystemTimeResponse(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	before := time.Now().UTC()
	assert.Nil(t, host.Write([]byte("AT-MSSTM\r")))
	resp := readResponse(t, host, "OK")

	sysTime, err := wire.ParseSystemTime(resp)
	assert.Nil(t, err)

	low := int64(before.Sub(wire.IridiumEpoch).Seconds() * 1000 / 90)
	assert.GreaterOrEqual(t, sysTime, low)
	assert.Less(t, sysTime, low+1000)
}

func TestSignalQualityResponse(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)
	server.SetSignalQuality(3)

	assert.Nil(t, host.Write([]byte("AT+CSQ\r")))
	resp := readResponse(t, host, "OK")
	sig, err := wire.ParseSignalQuality(resp)
	assert.Nil(t, err)
	assert.Equal(t, 3, sig)
}

func TestSerialNumberResponse(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	assert.Nil(t, host.Write([]byte("AT+CGSN\r")))
	resp := readResponse(t, host, "OK")
	sn, err := wire.ParseSerialNumber(resp)
	assert.Nil(t, err)
	assert.Equal(t, server.SerialNumber(), sn)
}

func TestCheckRingCountsQueue(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	assert.Nil(t, server.SendMessage([]byte("one")))
	assert.Nil(t, server.SendMessage([]byte("two")))

	// Drain the first SBDRING notification; the second stays buffered ahead
	// of the +CRIS: response, which the parser skips over.
	readResponse(t, host, "SBDRING")

	assert.Nil(t, host.Write([]byte("AT+CRIS\r")))
	resp := readResponse(t, host, "OK")
	tri, sri, err := wire.ParseCheckRing(resp)
	assert.Nil(t, err)
	assert.Equal(t, 0, tri)
	assert.Equal(t, 2, sri)
}

func TestSessionReportsQueue(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	assert.Nil(t, server.SendMessage([]byte("hello")))
	readResponse(t, host, "SBDRING")

	assert.Nil(t, host.Write([]byte("AT+SBDIX\r")))
	resp := readResponse(t, host, "OK")
	session, err := wire.ParseSession(resp)
	assert.Nil(t, err)
	assert.Equal(t, 1, session.MtStatus)
	assert.Equal(t, 5, session.MtLength)
	assert.Equal(t, 0, session.MtQueued)

	// The session counter advances on every session.
	assert.Nil(t, host.Write([]byte("AT+SBDIX\r")))
	resp = readResponse(t, host, "OK")
	next, err := wire.ParseSession(resp)
	assert.Nil(t, err)
	assert.Equal(t, session.MoMsn+1, next.MoMsn)
}

func TestReadBinaryResponse(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	assert.Nil(t, server.SendMessage([]byte("hello")))
	readResponse(t, host, "SBDRING")

	assert.Nil(t, host.Write([]byte("AT+SBDRB\r")))
	resp := readResponse(t, host, "OK")

	msgLen, content, checksum, calcCheck, err := wire.ParseReadBinary(resp)
	assert.Nil(t, err)
	assert.Equal(t, 5, msgLen)
	assert.Equal(t, []byte("hello"), content)
	assert.Equal(t, calcCheck, checksum)
	assert.Equal(t, 0, server.QueuedMessages())
}

func TestRepeatLast(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	assert.Nil(t, host.Write([]byte("AT+CSQ\r")))
	first := readResponse(t, host, "OK")

	assert.Nil(t, host.Write([]byte("A/\r")))
	repeated := readResponse(t, host, "OK")
	assert.Equal(t, string(first), string(repeated))
}

func TestWriteBinaryHandshake(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	delivered := make(chan []byte, 1)
	server.SetMessageHandler(func(content []byte) {
		delivered <- content
	})

	message := []byte("ping")
	assert.Nil(t, host.Write([]byte("AT+SBDWB=4\r")))
	ready := readResponse(t, host, "READY")
	assert.Contains(t, string(ready), "READY")

	assert.Nil(t, host.Write(append(message, wire.Checksum(message)...)))
	status := readResponse(t, host, "OK")
	ok, err := wire.ParseWriteBinary(status[:bytes.Index(status, []byte("OK"))])
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, message, <-delivered)

	// A later session reports the MO success status.
	assert.Nil(t, host.Write([]byte("AT+SBDIX\r")))
	resp := readResponse(t, host, "OK")
	session, err := wire.ParseSession(resp)
	assert.Nil(t, err)
	assert.Equal(t, 1, session.MoStatus)
}

func TestWriteBinaryBadChecksum(t *testing.T) {
	server, host := createServerTest(t)
	server.SetOption("echo", false)

	message := []byte("ping")
	assert.Nil(t, host.Write([]byte("AT+SBDWB=4\r")))
	readResponse(t, host, "READY")

	bad := wire.Checksum(message)
	bad[1]++
	assert.Nil(t, host.Write(append(message, bad...)))
	status := readResponse(t, host, "OK")
	ok, err := wire.ParseWriteBinary(status[:bytes.Index(status, []byte("OK"))])
	assert.Nil(t, err)
	assert.False(t, ok)

	assert.Nil(t, host.Write([]byte("AT+SBDIX\r")))
	resp := readResponse(t, host, "OK")
	session, err := wire.ParseSession(resp)
	assert.Nil(t, err)
	assert.Equal(t, 18, session.MoStatus)
}

func TestSendMessageTooLong(t *testing.T) {
	server, _ := createServerTest(t)
	assert.ErrorIs(t, server.SendMessage(make([]byte, wire.MaxMtLength+1)), ErrMessageTooLong)
}
