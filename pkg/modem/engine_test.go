package modem

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/sport/virtual"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// recorder collects callback invocations for inspection. The engine tests
// drive CheckIO directly, no listener goroutine is involved.
type recorder struct {
	mu            sync.Mutex
	transferred   []int
	failed        []int
	received      [][]byte
	receiveFailed int
	notifications []string
	finished      []finishedCall
}

type finishedCall struct {
	cmd []byte
	ok  bool
}

func (r *recorder) events() *event.Events {
	return &event.Events{
		MessageTransferred: func(moMsn int) {
			r.mu.Lock()
			r.transferred = append(r.transferred, moMsn)
			r.mu.Unlock()
		},
		MessageTransferFailed: func(moMsn int) {
			r.mu.Lock()
			r.failed = append(r.failed, moMsn)
			r.mu.Unlock()
		},
		MessageReceived: func(content []byte) {
			r.mu.Lock()
			r.received = append(r.received, append([]byte(nil), content...))
			r.mu.Unlock()
		},
		MessageReceiveFailed: func(msgLen int, content, checksum, calcCheck []byte) {
			r.mu.Lock()
			r.receiveFailed++
			r.mu.Unlock()
		},
		Notification: func(kind, message, detail string) {
			r.mu.Lock()
			r.notifications = append(r.notifications, kind+": "+message)
			r.mu.Unlock()
		},
		CommandFinished: func(cmd []byte, ok bool, contents []byte) {
			r.mu.Lock()
			r.finished = append(r.finished, finishedCall{cmd: append([]byte(nil), cmd...), ok: ok})
			r.mu.Unlock()
		},
	}
}

func createEngineTest(t *testing.T) (*Communicator, *virtual.Endpoint, *recorder) {
	t.Helper()
	host, peer := virtual.Pair()
	c := New(host)
	rec := &recorder{}
	c.SetEvents(rec.events())
	t.Cleanup(func() {
		host.Close()
		peer.Close()
	})
	return c, peer, rec
}

func popAll(c *Communicator) [][]byte {
	var cmds [][]byte
	for {
		cmd, ok := c.seqQueue.Pop()
		if !ok {
			return cmds
		}
		cmds = append(cmds, cmd)
	}
}

func TestEngineSessionFollowUps(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.Session)
	c.CheckIO([]byte("+SBDIX: 1, 42, 1, 7, 5, 2\r\n\r\nOK\r\n"))

	assert.Nil(t, c.PendingCommand())
	assert.Equal(t, []int{42}, rec.transferred)

	// Transfer success clears the MO buffer, an MT message schedules the
	// binary read, and the remaining queue schedules another session.
	cmds := popAll(c)
	assert.Equal(t, [][]byte{command.ClearMoBuffer, command.ReadBinary, command.Session}, cmds)

	assert.Len(t, rec.finished, 1)
	assert.True(t, rec.finished[0].ok)
	assert.Equal(t, command.Session, rec.finished[0].cmd)
}

func TestEngineSessionTransferFailed(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.Session)
	c.CheckIO([]byte("+SBDIX: 18, 9, 0, 0, 0, 0\r\n\r\nOK\r\n"))

	assert.Empty(t, rec.transferred)
	assert.Equal(t, []int{9}, rec.failed)
	assert.Contains(t, rec.notifications, "Error: Message Transfer Failed!")
	assert.Empty(t, popAll(c))
}

func TestEngineSessionParseError(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.Session)
	c.CheckIO([]byte("+SBDIX: bogus\r\n\r\nOK\r\n"))

	assert.Nil(t, c.PendingCommand())
	assert.Len(t, rec.finished, 1)
	assert.False(t, rec.finished[0].ok)
}

func TestEngineCheckRingSchedulesSession(t *testing.T) {
	c, _, _ := createEngineTest(t)

	c.setPending(command.CheckRing)
	c.CheckIO([]byte("+CRIS: 0,1\r\n\r\nOK\r\n"))

	assert.Equal(t, [][]byte{command.Session}, popAll(c))

	// With auto_read off nothing is scheduled.
	c.SetOption("auto_read", false)
	c.setPending(command.CheckRing)
	c.CheckIO([]byte("+CRIS: 0,1\r\n\r\nOK\r\n"))
	assert.Empty(t, popAll(c))
}

func TestEngineBinaryReceive(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.ReadBinary)
	c.CheckIO([]byte("AT+SBDRB\r\x00\x05hello\x02\x14\r\nOK\r\n"))

	assert.Equal(t, [][]byte{[]byte("hello")}, rec.received)
	assert.Zero(t, rec.receiveFailed)
	assert.Nil(t, c.PendingCommand())
}

func TestEngineBinaryReceiveSplit(t *testing.T) {
	c, _, rec := createEngineTest(t)

	// The content itself contains "OK", and the first chunk ends inside
	// it: the engine must defer until the framing is complete.
	content := []byte("xxOKxx")
	full := append([]byte("AT+SBDRB\r"), wire.Frame(content)...)
	full = append(full, []byte("\r\nOK\r\n")...)
	split := bytes.Index(full, []byte("OK")) + 2

	c.setPending(command.ReadBinary)
	c.CheckIO(full[:split])
	assert.Empty(t, rec.received)
	assert.NotNil(t, c.PendingCommand())

	c.CheckIO(full[split:])
	assert.Equal(t, [][]byte{content}, rec.received)
	assert.Nil(t, c.PendingCommand())
}

func TestEngineBinaryReceiveChecksumMismatch(t *testing.T) {
	c, _, rec := createEngineTest(t)

	frame := wire.Frame([]byte("hello"))
	frame[len(frame)-1]++ // corrupt the checksum
	data := append([]byte("AT+SBDRB\r"), frame...)
	data = append(data, []byte("\r\nOK\r\n")...)

	c.setPending(command.ReadBinary)
	c.CheckIO(data)

	assert.Empty(t, rec.received)
	assert.Equal(t, 1, rec.receiveFailed)
}

func TestEngineRingSchedulesOneSession(t *testing.T) {
	c, _, _ := createEngineTest(t)

	c.CheckIO([]byte("SBDRING\r\n"))
	c.CheckIO([]byte("SBDRING\r\n"))

	assert.Equal(t, [][]byte{command.Session}, popAll(c))
}

func TestEngineQueueDrain(t *testing.T) {
	c, peer, _ := createEngineTest(t)

	c.QueueSignalQuality()
	c.CheckIO(nil)

	// The queued command became pending and went out on the wire.
	assert.Equal(t, command.SignalQuality, c.PendingCommand())
	line, err := peer.ReadLine(100 * time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, []byte("AT+CSQ\r"), line)

	// Nothing more is drained while a command is pending.
	c.QueueSystemTime()
	c.CheckIO(nil)
	assert.Equal(t, command.SignalQuality, c.PendingCommand())
}

func TestEngineTrimsIdleNoise(t *testing.T) {
	c, _, _ := createEngineTest(t)

	c.CheckIO([]byte("noise\r\npartial"))
	assert.Equal(t, []byte("partial"), c.readBuf)

	c.CheckIO([]byte(" line\r\n"))
	assert.Empty(t, c.readBuf)
}

func TestEngineClearBufferResponse(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.ClearMoBuffer)
	c.CheckIO([]byte("AT+SBDD0\r\r\n0\r\n\r\nOK\r\n"))
	assert.True(t, rec.finished[0].ok)

	c.setPending(command.ClearBothBuffers)
	c.CheckIO([]byte("AT+SBDD2\r\r\n1\r\n\r\nOK\r\n"))
	assert.False(t, rec.finished[1].ok)
}

func TestEngineWriteBinaryReady(t *testing.T) {
	c, peer, rec := createEngineTest(t)

	message := []byte("ping")
	assert.Nil(t, c.SendMessage(message))
	assert.Equal(t, []byte("AT+SBDWB=4"), c.PendingCommand())

	line, err := peer.ReadLine(100 * time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, []byte("AT+SBDWB=4\r"), line)

	c.CheckIO([]byte("READY\r\n"))
	assert.Nil(t, c.PendingCommand())
	assert.Len(t, rec.finished, 1)
	assert.True(t, rec.finished[0].ok)

	// The payload and its checksum followed the READY.
	payload, err := peer.ReadLine(100 * time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, append(message, wire.Checksum(message)...), payload)
}

func TestEngineAbandonedCommandFails(t *testing.T) {
	c, _, rec := createEngineTest(t)

	c.setPending(command.Ping)
	c.setPending(command.SignalQuality)

	assert.Len(t, rec.finished, 1)
	assert.False(t, rec.finished[0].ok)
	assert.Equal(t, command.Ping, rec.finished[0].cmd)
}

func TestSendMessageTooLong(t *testing.T) {
	c, _, _ := createEngineTest(t)
	assert.ErrorIs(t, c.SendMessage(make([]byte, wire.MaxMoLength+1)), ErrMessageTooLong)
}

func TestOptionsCaseInsensitive(t *testing.T) {
	c, _, _ := createEngineTest(t)

	assert.True(t, c.Option("echo"))
	assert.True(t, c.Option("ECHO"))
	assert.True(t, c.Option("Echo"))

	c.SetOption("AUTO_READ", false)
	assert.False(t, c.Option("auto_read"))

	assert.False(t, c.Option("unknown_option"))
}
