package relay

import (
	"sync"

	v1 "plotrelay/relay/v1"
)

// Client is the relay-side handle for one connected websocket.
//
// Send is never closed by the server: broadcasters may hold a reference
// while the connection tears down, and writing to a closed channel would
// panic the whole room. Shutdown is signalled through done instead.
type Client struct {
	// ID is the opaque connection id assigned at upgrade time.
	ID string

	// PrincipalID is the authenticated session principal bound at connect
	// time, or empty for anonymous connections. Plot forwarding requires it.
	PrincipalID string

	Send chan v1.Message

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, principalID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:          id,
		PrincipalID: principalID,
		Send:        make(chan v1.Message, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Authenticated reports whether a principal is bound to this connection.
func (c *Client) Authenticated() bool {
	return c != nil && c.PrincipalID != ""
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown. Idempotent; does not close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
