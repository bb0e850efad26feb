package ws

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/fastql/server/internal/session"
)

// Client event names carried in text frames.
const (
	EventInput   = "input"
	EventToolbar = "toolbar"
	EventResize  = "resize"

	// EventSession is sent by the server once the process is running.
	EventSession = "session"
)

// clientMessage is a JSON text frame from the browser.
type clientMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
	Cols  int    `json:"cols"`
	Rows  int    `json:"rows"`
}

// serverMessage is a JSON text frame to the browser.
type serverMessage struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
}

// decodeClientEvent turns a text frame into a session event.
func decodeClientEvent(data []byte) (session.ClientEvent, error) {
	var msg clientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return session.ClientEvent{}, fmt.Errorf("decode client message: %w", err)
	}

	switch msg.Event {
	case EventInput:
		return session.ClientEvent{Kind: session.EventInput, Data: []byte(msg.Data)}, nil
	case EventToolbar:
		return session.ClientEvent{Kind: session.EventControl, Line: msg.Data}, nil
	case EventResize:
		return session.ClientEvent{Kind: session.EventResize, Cols: msg.Cols, Rows: msg.Rows}, nil
	default:
		return session.ClientEvent{}, fmt.Errorf("unknown client event %q", msg.Event)
	}
}

func encodeServerMessage(msg serverMessage) ([]byte, error) {
	return sonic.Marshal(msg)
}
