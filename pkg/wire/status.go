package wire

// MO session status codes reported in the first value of +SBDIX:.
// 0 to 4 indicate success, everything above is a failure.
var moStatus = map[int]string{
	0: "MO message, if any, transferred successfully.",
	1: "MO message, if any, transferred successfully, but the MT message in the queue was too big to be transferred.",
	2: "MO message, if any, transferred successfully, but the requested Location Update was not accepted.",
	3: "Reserved, but indicate MO session success if used.",
	4: "Reserved, but indicate MO session success if used.",

	10: "Gateway reported that the call did not complete in the allowed time.",
	11: "MO message queue at the Gateway is full.",
	12: "MO message has too many segments.",
	13: "Gateway reported that the session did not complete.",
	14: "Invalid segment size.",
	15: "Access is denied.",

	16: "9602 has been locked and may not make SBD calls (see +CULK command).",
	17: "Gateway not responding (local session timeout).",
	18: "Connection lost (RF drop).",

	32: "No network service, unable to initiate call.",
	33: "Antenna fault, unable to initiate call.",
	34: "Radio is disabled, unable to initiate call (see *Rn command).",
	35: "9602 is busy, unable to initiate call (typically performing auto-registration).",
}

var mtStatus = map[int]string{
	0: "No MT SBD message to receive from the Gateway.",
	1: "MT SBD message successfully received from the Gateway.",
	2: "An error occurred while attempting to perform a mailbox check or receive a message from the Gateway.",
}

// MoStatusText returns the text for an MO session status code.
func MoStatusText(code int) string {
	if text, ok := moStatus[code]; ok {
		return text
	}
	if code >= 5 && code <= 9 {
		return "Reserved, but indicate MO session failure if used."
	}
	return "Unknown failure!"
}

// MoStatusOk reports whether an MO status code indicates session success.
func MoStatusOk(code int) bool {
	return code >= 0 && code <= 4
}

// MtStatusText returns the text for an MT session status code.
func MtStatusText(code int) string {
	if text, ok := mtStatus[code]; ok {
		return text
	}
	return "Unknown error!"
}
