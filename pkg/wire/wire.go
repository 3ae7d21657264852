// Package wire implements the stateless codec for the Iridium 9602 response
// payloads: line parsers for the ASCII responses, the binary MT framing and
// the 2-byte checksum used in both transfer directions.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrParse is returned by every parser on a structural mismatch.
var ErrParse = errors.New("could not parse response")

// MaxMoLength is the largest mobile originated payload the modem accepts.
const MaxMoLength = 340

// MaxMtLength is the largest mobile terminated payload the gateway delivers.
const MaxMtLength = 270

// IridiumEpoch is the network time origin. It wraps about every 12 years.
var IridiumEpoch = time.Date(2007, time.March, 8, 3, 50, 35, 0, time.UTC)

// Session holds the six values of a +SBDIX: response.
type Session struct {
	MoStatus int
	MoMsn    int
	MtStatus int
	MtMsn    int
	MtLength int
	MtQueued int
}

// marker helpers

func tokenAfter(data, marker []byte) ([]byte, bool) {
	resp := bytes.TrimSpace(data)
	idx := bytes.Index(resp, marker)
	if idx < 0 {
		return nil, false
	}
	resp = bytes.TrimSpace(resp[idx+len(marker):])
	if end := bytes.IndexByte(resp, '\n'); end >= 0 {
		resp = bytes.TrimSpace(resp[:end])
	}
	return resp, true
}

// ParseSystemTime parses the response to AT-MSSTM. The value counts 90 ms
// intervals since the Iridium epoch, transmitted as at least 8 hex digits.
func ParseSystemTime(data []byte) (int64, error) {
	resp, ok := tokenAfter(data, []byte("-MSSTM:"))
	if !ok || len(resp) < 8 {
		return 0, fmt.Errorf("%w: system time in %q", ErrParse, data)
	}
	sysTime, err := strconv.ParseInt(string(resp), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: system time in %q", ErrParse, data)
	}
	return sysTime, nil
}

// FormatSystemTime renders t the way the modem reports it: elapsed time
// since the Iridium epoch in 90 ms ticks, 8 lowercase hex digits zero padded.
func FormatSystemTime(t time.Time) []byte {
	ticks := int64(t.Sub(IridiumEpoch).Seconds() * 1000 / 90)
	return []byte(fmt.Sprintf("%08x", ticks))
}

// ParseSerialNumber parses the response to AT+CGSN and returns the IMEI.
// Echoed command lines and blank lines are skipped.
func ParseSerialNumber(data []byte) (string, error) {
	var resp []byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || bytes.Contains(line, []byte("AT+CGSN")) || bytes.Contains(line, []byte("AT+GSN")) {
			continue
		}
		resp = line
		break
	}
	if len(data) == 0 || resp == nil || bytes.Equal(resp, []byte("OK")) {
		return "", fmt.Errorf("%w: serial number in %q", ErrParse, data)
	}
	return string(resp), nil
}

// ParseSignalQuality parses the response to AT+CSQ. Values range 0 to 5.
func ParseSignalQuality(data []byte) (int, error) {
	resp, ok := tokenAfter(data, []byte("+CSQ:"))
	if !ok {
		return 0, fmt.Errorf("%w: signal quality in %q", ErrParse, data)
	}
	sig, err := strconv.Atoi(string(resp))
	if err != nil {
		return 0, fmt.Errorf("%w: signal quality in %q", ErrParse, data)
	}
	return sig, nil
}

// ParseCheckRing parses the response to AT+CRIS into the telephone ring
// indicator and the SBD ring indicator.
func ParseCheckRing(data []byte) (tri int, sri int, err error) {
	resp, ok := tokenAfter(data, []byte("+CRIS:"))
	if !ok {
		return 0, 0, fmt.Errorf("%w: check ring in %q", ErrParse, data)
	}
	parts := bytes.Split(resp, []byte{','})
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: check ring in %q", ErrParse, data)
	}
	tri, err1 := strconv.Atoi(string(bytes.TrimSpace(parts[0])))
	sri, err2 := strconv.Atoi(string(bytes.TrimSpace(parts[1])))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: check ring in %q", ErrParse, data)
	}
	return tri, sri, nil
}

// ParseSession parses the response to AT+SBDIX into its six values.
func ParseSession(data []byte) (Session, error) {
	resp, ok := tokenAfter(data, []byte("+SBDIX:"))
	if !ok {
		return Session{}, fmt.Errorf("%w: session in %q", ErrParse, data)
	}
	parts := bytes.Split(resp, []byte{','})
	if len(parts) != 6 {
		return Session{}, fmt.Errorf("%w: session in %q", ErrParse, data)
	}
	values := make([]int, 6)
	for i, part := range parts {
		v, err := strconv.Atoi(string(bytes.TrimSpace(part)))
		if err != nil {
			return Session{}, fmt.Errorf("%w: session in %q", ErrParse, data)
		}
		values[i] = v
	}
	return Session{
		MoStatus: values[0],
		MoMsn:    values[1],
		MtStatus: values[2],
		MtMsn:    values[3],
		MtLength: values[4],
		MtQueued: values[5],
	}, nil
}

// stripReadBinaryEcho drops everything up to and including an echoed
// "AT+SBDRB\r" if one is present.
func stripReadBinaryEcho(data []byte) []byte {
	if idx := bytes.Index(data, []byte("AT+SBDRB\r")); idx >= 0 {
		return data[idx+9:]
	}
	return data
}

// ParseReadBinary parses the binary framing of an AT+SBDRB response:
// 2 bytes of big endian message length, the content, 2 checksum bytes.
// calcCheck is computed from the content so callers can compare it against
// the transmitted checksum.
func ParseReadBinary(data []byte) (msgLen int, content, checksum, calcCheck []byte, err error) {
	data = stripReadBinaryEcho(data)
	if len(data) < 2 {
		return 0, nil, nil, nil, fmt.Errorf("%w: read binary frame too short", ErrParse)
	}
	msgLen = int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < msgLen+4 {
		return 0, nil, nil, nil, fmt.Errorf("%w: read binary frame too short", ErrParse)
	}
	content = data[2 : msgLen+2]
	checksum = data[msgLen+2 : msgLen+4]
	return msgLen, content, checksum, Checksum(content), nil
}

// HasReadBinaryData reports whether data holds a complete read binary frame.
// The engine uses it to defer processing while the binary payload is still
// split across read chunks, because "OK" may legitimately appear inside the
// content.
func HasReadBinaryData(data []byte) bool {
	data = stripReadBinaryEcho(data)
	if len(data) < 2 {
		return false
	}
	msgLen := int(binary.BigEndian.Uint16(data[:2]))
	return len(data) >= msgLen+4
}

// ParseWriteBinary parses the final status of an AT+SBDWB exchange. The
// transfer succeeded iff the last non whitespace byte is '0'.
func ParseWriteBinary(data []byte) (bool, error) {
	resp := bytes.TrimSpace(data)
	if len(resp) == 0 {
		return false, fmt.Errorf("%w: write binary status in %q", ErrParse, data)
	}
	return resp[len(resp)-1] == '0', nil
}

// Checksum returns the 2-byte checksum used by both binary transfer
// directions: the low 2 bytes of the unsigned sum of all content bytes,
// big endian.
func Checksum(content []byte) []byte {
	var sum uint32
	for _, b := range content {
		sum += uint32(b)
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(sum))
	return out
}

// Frame wraps content in the binary MT framing: length, content, checksum.
func Frame(content []byte) []byte {
	out := make([]byte, 0, len(content)+4)
	out = binary.BigEndian.AppendUint16(out, uint16(len(content)))
	out = append(out, content...)
	return append(out, Checksum(content)...)
}
