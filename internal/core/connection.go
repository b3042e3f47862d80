package core

import "context"

// Sender delivers one outbound message to a transport. Implementations must
// be safe for concurrent use; broadcasts from several rooms may hit the same
// connection at once.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, v any) error

// Send calls f(ctx, v).
func (f SenderFunc) Send(ctx context.Context, v any) error {
	return f(ctx, v)
}

// Connection is an authenticated client as seen by the core layer.
type Connection struct {
	// ID is unique per socket and only used for logging.
	ID string
	// AID is the identifier confirmed by the identity service.
	AID string
	// Name is the display name resolved for AID.
	Name string

	out Sender
}

// NewConnection wraps an authenticated transport.
func NewConnection(id, aid, name string, out Sender) *Connection {
	if name == "" {
		name = aid
	}
	return &Connection{
		ID:   id,
		AID:  aid,
		Name: name,
		out:  out,
	}
}

// Send writes v to the connection's transport.
func (c *Connection) Send(ctx context.Context, v any) error {
	return c.out.Send(ctx, v)
}
