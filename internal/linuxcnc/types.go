package linuxcnc

import "encoding/json"

// Message is the envelope of every websocket message to or from the
// status bridge.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Version string          `json:"version,omitempty"`
}

// Error is an error response from the bridge
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PollRequest asks for the current status
type PollRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeRequest asks the bridge to push a "status" message every cycle
type SubscribeRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// CommandRequest sends a command to the daemon, e.g. {"name": "state", "args": [4]}
type CommandRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// ErrorMessage is one entry of the daemon error channel, pushed by the
// bridge as a message of type "error".
type ErrorMessage struct {
	Kind int    `json:"kind"`
	Text string `json:"text"`
}

// Message types
const (
	TypeHello     = "hello"
	TypeResult    = "result"
	TypeStatus    = "status"
	TypePoll      = "poll"
	TypeSubscribe = "subscribe"
	TypeCommand   = "command"
	TypeError     = "error"
)
