package emulator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/justengel/goiridium9602/pkg/event"
	"github.com/justengel/goiridium9602/pkg/modem"
	"github.com/justengel/goiridium9602/pkg/sport/virtual"
)

const loopWait = 5 * time.Second

// createLoopback wires a Communicator and an emulator back to back over a
// virtual port pair. The emulator is already answering; the communicator
// has not connected yet.
func createLoopback(t *testing.T) (*modem.Communicator, *Server) {
	t.Helper()
	hostPort, modemPort := virtual.Pair()

	server := New(modemPort)
	assert.Nil(t, server.Connect())

	communicator := modem.New(hostPort)
	t.Cleanup(func() {
		communicator.Close()
		server.Close()
	})
	return communicator, server
}

func TestConnectAndClose(t *testing.T) {
	communicator, _ := createLoopback(t)

	var mu sync.Mutex
	var fired []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}
	communicator.SetEvents(&event.Events{
		Connecting:    record("connecting"),
		Connected:     record("connected"),
		Disconnecting: record("disconnecting"),
		Disconnected:  record("disconnected"),
	})

	assert.Nil(t, communicator.Connect())
	assert.True(t, communicator.IsConnected())

	assert.Nil(t, communicator.Close())
	assert.False(t, communicator.IsConnected())
	assert.False(t, communicator.IsListening())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connecting", "connected", "disconnecting", "disconnected"}, fired)
}

func TestConnectWithoutEmulatorFails(t *testing.T) {
	hostPort, modemPort := virtual.Pair()
	defer modemPort.Close()

	communicator := modem.New(hostPort)
	communicator.SetConnectTimeout(50 * time.Millisecond)
	defer communicator.Close()

	// Nobody answers on the other end.
	assert.ErrorIs(t, communicator.Connect(), modem.ErrConnect)
	assert.False(t, communicator.IsConnected())
}

func TestAcquireValues(t *testing.T) {
	communicator, server := createLoopback(t)
	server.SetSignalQuality(4)
	assert.Nil(t, communicator.Connect())

	sig, err := communicator.AcquireSignalQuality(loopWait, loopWait)
	assert.Nil(t, err)
	assert.Equal(t, 4, sig)

	sysTime, err := communicator.AcquireSystemTime(loopWait, loopWait)
	assert.Nil(t, err)
	assert.Greater(t, sysTime, int64(0))

	sn, err := communicator.AcquireSerialNumber(loopWait, loopWait)
	assert.Nil(t, err)
	assert.Equal(t, server.SerialNumber(), sn)
	assert.Equal(t, sn, communicator.SerialNumber())

	tri, sri, err := communicator.AcquireRing(loopWait, loopWait)
	assert.Nil(t, err)
	assert.Equal(t, 0, tri)
	assert.Equal(t, 0, sri)
}

func TestSendMessageRoundTrip(t *testing.T) {
	communicator, server := createLoopback(t)

	delivered := make(chan []byte, 1)
	server.SetMessageHandler(func(content []byte) {
		delivered <- content
	})

	transferred := make(chan int, 1)
	events := &event.Events{
		MessageTransferred: func(moMsn int) {
			select {
			case transferred <- moMsn:
			default:
			}
		},
	}
	communicator.SetEvents(events)
	assert.Nil(t, communicator.Connect())

	communicator.WaitForCommand(loopWait, loopWait, func() {
		assert.Nil(t, communicator.SendMessage([]byte("ping")))
	})

	select {
	case content := <-delivered:
		assert.Equal(t, []byte("ping"), content)
	case <-time.After(loopWait):
		t.Fatal("the emulator never received the payload")
	}

	// A session transfers the MO buffer and reports success.
	communicator.WaitForCommand(loopWait, loopWait, func() {
		assert.Nil(t, communicator.InitiateSession())
	})

	select {
	case <-transferred:
	case <-time.After(loopWait):
		t.Fatal("the session never reported the transfer")
	}
}

func TestMtMessageDelivery(t *testing.T) {
	communicator, server := createLoopback(t)

	received := make(chan []byte, 1)
	communicator.SetEvents(&event.Events{
		MessageReceived: func(content []byte) {
			select {
			case received <- content:
			default:
			}
		},
	})
	assert.Nil(t, communicator.Connect())

	// The emulator rings, the idle engine runs a session and reads the
	// message back on its own.
	assert.Nil(t, server.SendMessage([]byte("hello")))

	select {
	case content := <-received:
		assert.Equal(t, []byte("hello"), content)
	case <-time.After(loopWait):
		t.Fatal("the ring alert never produced a message")
	}

	assert.Eventually(t, func() bool {
		return server.QueuedMessages() == 0
	}, loopWait, 10*time.Millisecond)
}

func TestAcquireMessage(t *testing.T) {
	communicator, server := createLoopback(t)
	assert.Nil(t, communicator.Connect())

	// Pull the message with auto_read suspended instead of waiting for
	// the ring driven flow.
	communicator.SetOption("auto_read", false)
	assert.Nil(t, server.SendMessage([]byte("direct")))

	content, err := communicator.AcquireMessage(loopWait, loopWait)
	assert.Nil(t, err)
	assert.Equal(t, []byte("direct"), content)
}

func TestSecondListenerRejected(t *testing.T) {
	communicator, _ := createLoopback(t)
	assert.Nil(t, communicator.Connect())

	assert.ErrorIs(t, communicator.Listen(), modem.ErrAlreadyListening)
}
