package server

import "strings"

// delivery is one unit of fan-out work for the hub loop. Exactly one of
// target, room or all selects the recipients.
type delivery struct {
	target  *Client
	room    string
	all     bool
	except  *Client
	payload []byte
}

// membership asks the hub to add a client to a room.
type membership struct {
	client *Client
	room   string
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
