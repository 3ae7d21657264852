// Package event defines the observer surface the protocol engine reports
// through. Events is a plain struct of function values so callers can
// install only the callbacks they care about, and so the engine can swap
// individual callbacks at runtime while acquiring a response.
package event

import "log/slog"

// Notification kinds.
const (
	KindError   = "Error"
	KindWarning = "Warning"
	KindInfo    = "Info"
	KindSuccess = "Success"
)

// Events groups the callbacks fired by the engine. Nil fields are replaced
// with no-ops by Fill, so a zero value is usable. The response callbacks run
// on the listener goroutine and must not block; the lifecycle callbacks run
// on the goroutine that calls Connect or Close.
type Events struct {
	// Lifecycle transitions.
	Connecting    func()
	Connected     func()
	Disconnecting func()
	Disconnected  func()

	// Fired after the matching response parses.
	SystemTimeUpdated   func(sysTime int64)
	SerialNumberUpdated func(sn string)
	SignalQualityUpdated func(sig int)
	CheckRingUpdated    func(tri, sri int)

	// MessageReceived fires for an MT message whose length and checksum
	// both check out, MessageReceiveFailed otherwise.
	MessageReceived      func(content []byte)
	MessageReceiveFailed func(msgLen int, content, checksum, calcCheck []byte)

	// Session outcome for the MO direction.
	MessageTransferred    func(moMsn int)
	MessageTransferFailed func(moMsn int)

	// Notification reports any non fatal engine event.
	// kind is one of KindError, KindWarning, KindInfo, KindSuccess.
	Notification func(kind, message, detail string)

	// CommandFinished fires for every command, success or failure, with the
	// raw payload that preceded the terminator.
	CommandFinished func(cmd []byte, ok bool, contents []byte)
}

// Fill installs no-op callbacks for every nil field. The default
// Notification logs through the given logger (slog.Default when nil).
func (e *Events) Fill(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if e.Connecting == nil {
		e.Connecting = func() {}
	}
	if e.Connected == nil {
		e.Connected = func() {}
	}
	if e.Disconnecting == nil {
		e.Disconnecting = func() {}
	}
	if e.Disconnected == nil {
		e.Disconnected = func() {}
	}
	if e.SystemTimeUpdated == nil {
		e.SystemTimeUpdated = func(int64) {}
	}
	if e.SerialNumberUpdated == nil {
		e.SerialNumberUpdated = func(string) {}
	}
	if e.SignalQualityUpdated == nil {
		e.SignalQualityUpdated = func(int) {}
	}
	if e.CheckRingUpdated == nil {
		e.CheckRingUpdated = func(int, int) {}
	}
	if e.MessageReceived == nil {
		e.MessageReceived = func([]byte) {}
	}
	if e.MessageReceiveFailed == nil {
		e.MessageReceiveFailed = func(int, []byte, []byte, []byte) {}
	}
	if e.MessageTransferred == nil {
		e.MessageTransferred = func(int) {}
	}
	if e.MessageTransferFailed == nil {
		e.MessageTransferFailed = func(int) {}
	}
	if e.Notification == nil {
		e.Notification = func(kind, message, detail string) {
			logger.Info("notification", "kind", kind, "message", message, "detail", detail)
		}
	}
	if e.CommandFinished == nil {
		e.CommandFinished = func([]byte, bool, []byte) {}
	}
}

// Printer returns an Events that logs every callback, useful for CLIs and
// debugging sessions.
func Printer(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Events{
		Connecting:    func() { logger.Info("connecting") },
		Connected:     func() { logger.Info("connected") },
		Disconnecting: func() { logger.Info("disconnecting") },
		Disconnected:  func() { logger.Info("disconnected") },
		SystemTimeUpdated: func(sysTime int64) {
			logger.Info("system time", "value", sysTime)
		},
		SerialNumberUpdated: func(sn string) {
			logger.Info("serial number", "imei", sn)
		},
		SignalQualityUpdated: func(sig int) {
			logger.Info("signal quality", "value", sig)
		},
		CheckRingUpdated: func(tri, sri int) {
			logger.Info("check ring", "tri", tri, "sri", sri)
		},
		MessageReceived: func(content []byte) {
			logger.Info("message received", "content", string(content))
		},
		MessageReceiveFailed: func(msgLen int, content, checksum, calcCheck []byte) {
			logger.Error("message receive failed",
				"len", msgLen, "received", len(content),
				"checksum", checksum, "calculated", calcCheck)
		},
		MessageTransferred: func(moMsn int) {
			logger.Info("message transferred", "moMsn", moMsn)
		},
		MessageTransferFailed: func(moMsn int) {
			logger.Error("message transfer failed", "moMsn", moMsn)
		},
		Notification: func(kind, message, detail string) {
			logger.Info("notification", "kind", kind, "message", message, "detail", detail)
		},
		CommandFinished: func(cmd []byte, ok bool, contents []byte) {
			logger.Debug("command finished", "cmd", string(cmd), "ok", ok, "contents", contents)
		},
	}
	return e
}
