package icap

import (
	"context"
	"io"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/headers"
	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// Transport establishes channels to ICAP servers
type Transport interface {
	Connect(ctx context.Context, host string, port int, family Family) (Channel, error)
}

// Channel is an established connection to one server
type Channel interface {
	NewRequest(host, service string) TransportRequest
	Alive() bool
	Close() error
}

// TransportRequest is one ICAP request object bound to a channel. It is
// implemented by *transport.Request.
type TransportRequest interface {
	ServerOptions(ctx context.Context, timeout time.Duration) (int, error)
	Capabilities() transport.Capabilities
	SetCapabilities(caps transport.Capabilities)
	Reuse()
	SetMethod(m transport.Method)
	Exchange(ctx context.Context, timeout time.Duration, reqHdr, respHdr *headers.List, in io.Reader, out io.Writer) (int, error)
	ResponseHeaders() *headers.List
	HTTPRequestHeaders() *headers.List
	HTTPResponseHeaders() *headers.List
	ServerClosing() bool
	OptionsTTL() time.Duration
	ISTag() string
	Detach()
}

var _ TransportRequest = (*transport.Request)(nil)

// NewNetTransport returns the Transport dialing real ICAP servers with opts
func NewNetTransport(opts transport.Options) Transport {
	return &netTransport{opts: opts}
}

type netTransport struct {
	opts transport.Options
}

func (t *netTransport) Connect(ctx context.Context, host string, port int, family Family) (Channel, error) {
	conn, err := transport.Dial(ctx, host, port, family, t.opts)
	if err != nil {
		return nil, err
	}
	return netChannel{conn}, nil
}

type netChannel struct {
	*transport.Conn
}

func (c netChannel) NewRequest(host, service string) TransportRequest {
	return c.Conn.NewRequest(host, service)
}
