package transport

import (
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"

	wireerrors "github.com/WhileEndless/go-icapclient/pkg/errors"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// Method is an ICAP request method
type Method string

const (
	MethodOptions Method = "OPTIONS"
	MethodReqmod  Method = "REQMOD"
	MethodRespmod Method = "RESPMOD"
)

// Capabilities are the exchange parameters negotiated with OPTIONS
type Capabilities struct {
	// Preview is the number of body bytes the server wants up front.
	// Negative means the server does not support previews.
	Preview   int
	Allow204  bool
	Allow206  bool
	Keepalive bool
}

// DefaultCapabilities are used before any negotiation
func DefaultCapabilities() Capabilities {
	return Capabilities{Preview: -1, Keepalive: true}
}

// Request is one ICAP request bound to a connection. It is reset with
// Reuse between exchanges.
type Request struct {
	conn    *Conn
	host    string
	service string
	method  Method
	caps    Capabilities

	// Data reported by the last OPTIONS response
	istag          string
	methods        []string
	maxConnections int
	optionsTTL     time.Duration

	// Results of the last exchange
	status              int
	responseHeaders     *headers.List
	httpRequestHeaders  *headers.List
	httpResponseHeaders *headers.List
	serverClosing       bool
	timing              Timing
}

// NewRequest creates a request for service on host, bound to c
func (c *Conn) NewRequest(host, service string) *Request {
	if host == "" {
		host = c.host
	} else if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return &Request{
		conn:    c,
		host:    host,
		service: service,
		caps:    DefaultCapabilities(),
	}
}

// Reuse resets the request for a new exchange on the same connection.
// Capabilities fall back to their defaults; callers that want to keep the
// negotiated ones reapply them with SetCapabilities.
func (r *Request) Reuse() {
	r.method = ""
	r.caps = DefaultCapabilities()
	r.status = 0
	r.responseHeaders = nil
	r.httpRequestHeaders = nil
	r.httpResponseHeaders = nil
	r.serverClosing = false
	r.timing = Timing{}
}

// Detach unbinds the request from its connection. Results of the last
// exchange stay readable.
func (r *Request) Detach() {
	r.conn = nil
}

// Conn returns the connection the request is bound to, nil once detached
func (r *Request) Conn() *Conn {
	return r.conn
}

// SetMethod sets the ICAP method of the next exchange
func (r *Request) SetMethod(m Method) {
	r.method = m
}

// Method returns the ICAP method of the next exchange
func (r *Request) Method() Method {
	return r.method
}

// Capabilities returns the current exchange parameters
func (r *Request) Capabilities() Capabilities {
	return r.caps
}

// SetCapabilities overrides the exchange parameters
func (r *Request) SetCapabilities(caps Capabilities) {
	r.caps = caps
}

// Service returns the ICAP service name
func (r *Request) Service() string {
	return r.service
}

// ISTag returns the service tag reported by the server
func (r *Request) ISTag() string {
	return r.istag
}

// Methods returns the methods the service advertised in OPTIONS
func (r *Request) Methods() []string {
	return r.methods
}

// MaxConnections returns the server's Max-Connections, 0 when not sent
func (r *Request) MaxConnections() int {
	return r.maxConnections
}

// OptionsTTL returns how long the OPTIONS answer stays valid, 0 when the
// server did not say
func (r *Request) OptionsTTL() time.Duration {
	return r.optionsTTL
}

// Status returns the ICAP status of the last exchange
func (r *Request) Status() int {
	return r.status
}

// ResponseHeaders returns the ICAP response header block of the last
// exchange, nil when none was received
func (r *Request) ResponseHeaders() *headers.List {
	return r.responseHeaders
}

// HTTPRequestHeaders returns the embedded HTTP request headers of the last
// response, nil when absent
func (r *Request) HTTPRequestHeaders() *headers.List {
	return r.httpRequestHeaders
}

// HTTPResponseHeaders returns the embedded HTTP response headers of the
// last response, nil when absent
func (r *Request) HTTPResponseHeaders() *headers.List {
	return r.httpResponseHeaders
}

// ServerClosing reports whether the last response carried
// "Connection: close"
func (r *Request) ServerClosing() bool {
	return r.serverClosing
}

// Timing returns the timings of the last exchange
func (r *Request) Timing() Timing {
	return r.timing
}

// URI returns the ICAP request URI
func (r *Request) URI() string {
	hostport := r.host
	if r.conn != nil {
		hostport = net.JoinHostPort(r.host, strconv.Itoa(r.conn.port))
	}
	return "icap://" + hostport + "/" + strings.TrimPrefix(r.service, "/")
}

// newICAPHeaders starts an ICAP request header block with the headers
// every request carries
func (r *Request) newICAPHeaders(method Method) *headers.List {
	h := headers.NewListWithStartLine(string(method) + " " + r.URI() + " ICAP/1.0")
	h.Add("Host", r.host)
	h.Add("User-Agent", r.conn.opts.UserAgent)
	return h
}

// recordResponse stores an ICAP response header block and its status
func (r *Request) recordResponse(h *headers.List) error {
	line, _ := h.StartLine()
	status, err := statusCode(line)
	if err != nil {
		return err
	}
	r.status = status
	r.responseHeaders = h
	if v, ok := h.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		r.serverClosing = true
	}
	if v, ok := h.Get("ISTag"); ok {
		r.istag = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return nil
}

// statusCode extracts the status code of an ICAP status line
func statusCode(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "ICAP/") {
		return 0, NewProtocolError(statusLineError(line))
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil || status < 100 || status > 999 {
		return 0, NewProtocolError(statusLineError(line))
	}
	return status, nil
}

func statusLineError(line string) error {
	return wireerrors.NewError(wireerrors.ErrorTypeInvalidStatusLine,
		"malformed ICAP status line", "status line", []byte(line))
}
