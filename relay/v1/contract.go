// Package v1 defines the plotrelay wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients so the wire format has a
// single authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type constants (wire-stable).
const (
	// TypeJoin adds the sending connection to a room (client -> server).
	TypeJoin = "join"
	// TypeLeave removes the sending connection from a room (client -> server).
	TypeLeave = "leave"
	// TypePlot carries a drawing payload from a guest toward the plotter.
	TypePlot = "plot"
	// TypeNotify carries a status update from the plotter toward the guests.
	TypeNotify = "notify"
	// TypeError is a generic error message (server -> client).
	TypeError = "error"
)

// The two rooms with routing semantics. Any other room name may be joined
// and left freely but is never a broadcast target.
const (
	RoomGuests  = "guests"
	RoomPlotter = "plotter"
)

// Message is the canonical wire frame. Room is set only for join/leave;
// Data is the opaque application payload of plot/notify and is forwarded
// without inspection.
type Message struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Validate performs structural validation for an inbound Message.
// Room names are otherwise opaque: no charset or length policy beyond
// being non-blank where the type requires one.
func (m Message) Validate() error {
	switch m.Type {
	case TypeJoin, TypeLeave:
		if strings.TrimSpace(m.Room) == "" {
			return fmt.Errorf("%s: missing room", m.Type)
		}
		return nil
	case TypePlot, TypeNotify:
		return nil
	case TypeError:
		return nil
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("unknown type: %q", m.Type)
	}
}

// ErrorData is the payload of a TypeError message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds a complete error Message, swallowing the (impossible)
// marshal failure of a two-string struct.
func NewError(code, msg string) Message {
	data, _ := json.Marshal(ErrorData{Code: code, Message: msg})
	return Message{Type: TypeError, Data: data}
}
