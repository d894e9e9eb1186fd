package icap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// Session sends adaptation requests to one ICAP server: it connects on
// demand, negotiates the service's capabilities, streams a local file as
// the body and keeps the server's answer for GetResponse.
//
// A Session runs one request at a time; use one Session per concurrent
// adaptation.
type Session struct {
	cfg  Config
	conn *Connection
	log  zerolog.Logger
}

// NewSession creates a Session for host with cfg. It validates the
// configuration but does not connect.
func NewSession(host string, cfg Config) (*Session, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if host == "" {
		return nil, configError("host must not be empty")
	}

	log := cfg.logger().With().Str("host", host).Int("port", cfg.Port).Logger()
	return &Session{
		cfg:  cfg,
		conn: NewConnection(host, cfg.Port, cfg.Family, cfg.dialer(), log),
		log:  log,
	}, nil
}

// Connection returns the session's connection
func (s *Session) Connection() *Connection {
	return s.conn
}

// Connect connects to the server if not already connected
func (s *Session) Connect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Close closes the connection and releases the session's hold on the last
// adapted body. Responses already returned stay readable.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Request sends the content of filename to the server for adaptation with
// method (MethodReqmod or MethodRespmod).
//
// Argument errors are reported before any I/O. On success the answer is
// kept until the next Request or Close and is read with GetResponse. A
// failed negotiation or exchange drops the request but not the Session,
// which reconnects on the next call.
//
// OPTIONS is not sent on every call. It runs once per channel and service,
// and later requests on the same channel reuse the negotiated capabilities
// until the server's Options-TTL expires. A new channel, a different
// service or an expired TTL negotiates again.
func (s *Session) Request(ctx context.Context, method Method, filename string, opts RequestOptions) error {
	if method != MethodReqmod && method != MethodRespmod {
		return configError(fmt.Sprintf("request type should be either %q or %q, got %q", MethodReqmod, MethodRespmod, method))
	}
	if opts.Timeout < 0 {
		return configError("request timeout must be positive (or zero)")
	}
	if opts.NoTimeout && opts.Timeout > 0 {
		return configError("request timeout set together with NoTimeout")
	}
	opts.setDefaults(&s.cfg)

	f, err := os.Open(filename)
	if err != nil {
		return &Error{Kind: KindIO, Message: "cannot open", Filename: filename, Err: wrapCause(err)}
	}
	defer f.Close()

	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reusableChannelLocked()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	c.discardRequestLocked()

	req, caps, err := c.negotiateLocked(ctx, opts.Service, opts.Timeout)
	if err != nil {
		return err
	}

	req.SetMethod(method)
	reqHdr := BuildReqmodHeaders(opts.URL)
	var respHdr *headers.List
	if method == MethodRespmod {
		respHdr = BuildRespmodHeaders()
	}

	var (
		content *Content
		out     io.Writer
	)
	if !opts.DiscardContent {
		content = newContent()
		out = content
	}

	log := s.log.With().Str("service", opts.Service).Str("method", string(method)).Str("file", filename).Logger()
	start := time.Now()

	status, err := req.Exchange(ctx, opts.Timeout, reqHdr, respHdr, f, out)
	if err != nil {
		req.Detach()
		content.Release()
		c.dropChannelLocked()
		log.Debug().Err(err).Msg("request failed")
		return &Error{
			Kind:    KindRequest,
			Message: "cannot send the ICAP request to",
			Host:    c.host,
			Port:    c.port,
			Err:     wrapCause(err),
		}
	}

	c.req = req
	c.status = status
	c.content = content
	log.Debug().Int("status", status).Int("content", content.Len()).Dur("elapsed", time.Since(start)).Msg("request complete")

	if !caps.Keepalive || req.ServerClosing() {
		c.dropChannelLocked()
	}
	return nil
}

// GetResponse returns the answer to the last completed Request
func (s *Session) GetResponse() (*Response, error) {
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.stateLocked()
	if !ok {
		return nil, &Error{Kind: KindNoRequestSent, Message: "no ICAP request was sent before"}
	}

	resp, err := ParseResponse(state)
	if err != nil {
		c.fillTarget(err)
		return nil, err
	}
	return resp, nil
}

// reusable reports whether the session holds a live channel. Channels that
// were not negotiated as persistent are closed after their request.
func (s *Session) reusable() bool {
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reusableChannelLocked()
}
