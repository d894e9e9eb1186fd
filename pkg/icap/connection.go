package icap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// Connection owns the channel to one ICAP server and the request carried
// on it. It serves one request at a time.
type Connection struct {
	mu        sync.Mutex
	host      string
	port      int
	family    Family
	transport Transport
	log       zerolog.Logger

	channel Channel

	// Last completed request, its status and its adapted body
	req     TransportRequest
	status  int
	content *Content

	// Capabilities negotiated on the current channel
	caps        transport.Capabilities
	capsService string
	capsExpire  time.Time
	capsValid   bool
}

// NewConnection creates an unconnected Connection to host:port over the
// given family. t dials the channel on first use.
func NewConnection(host string, port int, family Family, t Transport, log zerolog.Logger) *Connection {
	return &Connection{
		host:      host,
		port:      port,
		family:    family,
		transport: t,
		log:       log,
	}
}

// Host returns the server host
func (c *Connection) Host() string {
	return c.host
}

// Port returns the server port
func (c *Connection) Port() int {
	return c.port
}

// Family returns the address family
func (c *Connection) Family() Family {
	return c.family
}

// Connect establishes the channel if none is held. Connecting an already
// connected Connection does nothing.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

// Connected reports whether a channel is held
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel != nil
}

// Close detaches the last request, releases its content and closes the
// channel. Negotiated capabilities are forgotten. Closing a closed
// Connection does nothing; a later Connect starts over.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discardRequestLocked()
	c.dropChannelLocked()
	return nil
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.channel != nil {
		return nil
	}

	ch, err := c.transport.Connect(ctx, c.host, c.port, c.family)
	if err != nil {
		c.log.Debug().Err(err).Msg("connect failed")
		return &Error{
			Kind:    KindConnect,
			Message: "cannot connect to server",
			Host:    c.host,
			Port:    c.port,
			Err:     wrapCause(err),
		}
	}
	c.channel = ch
	c.log.Debug().Msg("connected")
	return nil
}

// discardRequestLocked forgets the last request. Its results stay readable
// by Responses that were already built.
func (c *Connection) discardRequestLocked() {
	if c.req != nil {
		c.req.Detach()
		c.req = nil
	}
	c.status = 0
	c.content.Release()
	c.content = nil
}

// dropChannelLocked closes the channel and forgets what was negotiated on
// it. The last request keeps its results.
func (c *Connection) dropChannelLocked() {
	if c.channel == nil {
		return
	}
	if c.req != nil {
		c.req.Detach()
	}
	if err := c.channel.Close(); err != nil {
		c.log.Debug().Err(err).Msg("close failed")
	}
	c.channel = nil
	c.capsValid = false
	c.log.Debug().Msg("channel closed")
}

// reusableChannelLocked reports whether the held channel can carry another
// request without reconnecting
func (c *Connection) reusableChannelLocked() bool {
	if c.channel == nil {
		return false
	}
	if !c.channel.Alive() {
		c.log.Debug().Msg("channel no longer alive")
		c.dropChannelLocked()
		return false
	}
	return true
}

// negotiateLocked returns a request object for service with its
// capabilities set. Capabilities already negotiated on the channel are
// reused until the server's Options-TTL runs out; otherwise an OPTIONS
// exchange runs first.
func (c *Connection) negotiateLocked(ctx context.Context, service string, timeout time.Duration) (TransportRequest, transport.Capabilities, error) {
	req := c.channel.NewRequest(c.host, service)

	if c.capsValid && c.capsService == service && (c.capsExpire.IsZero() || time.Now().Before(c.capsExpire)) {
		req.SetCapabilities(c.caps)
		return req, c.caps, nil
	}

	n, err := Negotiate(ctx, req, timeout)
	if err != nil {
		req.Detach()
		c.dropChannelLocked()
		c.fillTarget(err)
		c.log.Debug().Err(err).Str("service", service).Msg("negotiation failed")
		return nil, transport.Capabilities{}, err
	}
	caps := n.Capabilities
	c.log.Debug().
		Str("service", service).
		Int("preview", caps.Preview).
		Bool("allow204", caps.Allow204).
		Bool("allow206", caps.Allow206).
		Bool("keepalive", caps.Keepalive).
		Bool("closing", n.ServerClosing).
		Msg("negotiated")

	if n.ServerClosing {
		// The server hangs up after OPTIONS; the adaptation request goes
		// out on a fresh channel with the same capabilities
		req.Detach()
		c.dropChannelLocked()
		if err := c.connectLocked(ctx); err != nil {
			return nil, caps, err
		}
		req = c.channel.NewRequest(c.host, service)
		req.SetCapabilities(caps)
		return req, caps, nil
	}

	c.caps = caps
	c.capsService = service
	c.capsValid = true
	c.capsExpire = time.Time{}
	if n.OptionsTTL > 0 {
		c.capsExpire = time.Now().Add(n.OptionsTTL)
	}
	return req, caps, nil
}

// stateLocked returns what the last completed request left for response
// construction
func (c *Connection) stateLocked() (ResponseState, bool) {
	if c.req == nil {
		return ResponseState{}, false
	}
	return ResponseState{
		Status:              c.status,
		ICAPHeaders:         c.req.ResponseHeaders(),
		HTTPRequestHeaders:  c.req.HTTPRequestHeaders(),
		HTTPResponseHeaders: c.req.HTTPResponseHeaders(),
		Content:             c.content,
	}, true
}

func (c *Connection) fillTarget(err error) {
	var e *Error
	if errors.As(err, &e) && e.Host == "" {
		e.Host = c.host
		e.Port = c.port
	}
}
