package modem

import (
	"bytes"
	"io"

	"github.com/justengel/goiridium9602/pkg/command"
	"github.com/justengel/goiridium9602/pkg/wire"
)

// Replay plays a raw serial capture back through the engine. The capture
// interleaves commands sent with '\r' and modem responses echoed with
// "\r\r\n", so a command is recognized by its '\r' landing more than one
// byte before the next '\n'.
//
// The communicator is muted for the duration: nothing is written to the
// port and no follow up commands are scheduled. echo, when not nil, is
// called with every chunk so callers can display the traffic.
func Replay(r io.Reader, c *Communicator, echo func([]byte)) error {
	buffer, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if echo == nil {
		echo = func([]byte) {}
	}

	if !c.IsConnected() {
		events := c.Events()
		events.Connecting()
		c.setConnected(true)
		events.Connected()
	}

	c.muted = true
	defer func() {
		c.muted = false
		c.Close()
	}()

	for len(buffer) > 0 {
		atIdx := bytes.Index(buffer, []byte("AT"))
		if atIdx < 0 {
			break
		}
		endIdx := bytes.IndexByte(buffer[atIdx:], '\r')
		if endIdx < 0 {
			break
		}
		newlineIdx := bytes.IndexByte(buffer[atIdx:], '\n')

		if newlineIdx >= 0 && endIdx+2 < newlineIdx {
			// A command sent by the host. Feed any bytes before it first.
			if previous := buffer[:atIdx]; len(previous) > 0 {
				c.CheckIO(previous)
			}
			cmd := buffer[atIdx : atIdx+endIdx]
			buffer = buffer[atIdx+endIdx+1:]

			okIdx := bytes.Index(buffer, command.OK)
			if okIdx < 0 {
				break
			}
			data := buffer[:okIdx+len(command.OK)]
			buffer = buffer[okIdx+len(command.OK):]

			if bytes.Equal(cmd, command.ReadBinary) {
				for !wire.HasReadBinaryData(data) && bytes.Contains(buffer, command.OK) {
					okIdx = bytes.Index(buffer, command.OK)
					data = append(data, buffer[:okIdx+len(command.OK)]...)
					buffer = buffer[okIdx+len(command.OK):]
				}
				if !wire.HasReadBinaryData(data) {
					data = append(data, buffer...)
					buffer = nil
				}
			}

			echo(append(append([]byte(nil), cmd...), '\r'))
			echo(data)
			c.pendMu.Lock()
			c.pending = cmd
			c.pendMu.Unlock()
			c.CheckIO(data)
		} else {
			// Echoed or unsolicited traffic, feed it as is.
			data := buffer[:atIdx+endIdx]
			if len(data) > 0 {
				echo(data)
				c.CheckIO(data)
			}
			buffer = buffer[atIdx+endIdx:]
		}
	}
	return nil
}
