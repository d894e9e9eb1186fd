package icap

import (
	"context"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// Negotiation is what an OPTIONS exchange leaves for the adaptation
// request that follows it
type Negotiation struct {
	Capabilities transport.Capabilities

	// ServerClosing is set when the server answered OPTIONS with
	// "Connection: close"; the adaptation request needs a new channel
	ServerClosing bool

	// OptionsTTL is how long the capabilities stay valid, zero for no limit
	OptionsTTL time.Duration
}

// Negotiate runs the OPTIONS exchange on req and prepares req for the
// adaptation request that follows: the request object is reset for reuse
// and the capabilities the server announced (preview size, 204, 206,
// keepalive) are put back on it.
//
// A failure is a KindNegotiation error. It ends the current request
// attempt; the caller may retry on the same Connection.
func Negotiate(ctx context.Context, req TransportRequest, timeout time.Duration) (Negotiation, error) {
	if _, err := req.ServerOptions(ctx, timeout); err != nil {
		return Negotiation{}, &Error{
			Kind:    KindNegotiation,
			Message: "cannot send the ICAP OPTIONS request",
			Err:     wrapCause(err),
		}
	}

	// Reuse clears the per-response state, read it first
	n := Negotiation{
		Capabilities:  req.Capabilities(),
		ServerClosing: req.ServerClosing(),
		OptionsTTL:    req.OptionsTTL(),
	}
	if n.ServerClosing {
		n.Capabilities.Keepalive = false
	}

	req.Reuse()
	req.SetCapabilities(n.Capabilities)
	return n, nil
}
