package icap

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/headers"
	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// fakeTransport is an in-memory ICAP server. Each field scripts one aspect
// of its behaviour; the counters record what the client did.
type fakeTransport struct {
	mu sync.Mutex

	connectErr error

	optionsErr    error
	optionsCaps   transport.Capabilities
	optionsTTL    time.Duration
	closesOptions bool // Connection: close on the OPTIONS answer

	exchangeErr    error
	status         int
	icapHeaders    *headers.List
	httpReqHeaders *headers.List
	httpResHeaders *headers.List
	body           string
	closesExchange bool

	connects  int
	options   int
	exchanges int
	closes    int

	lastMethod  transport.Method
	lastTimeout time.Duration
	lastCaps    transport.Capabilities
	lastService string
	lastReqHdr  *headers.List
	lastRespHdr *headers.List
	lastBody    []byte
	channels    []*fakeChannel
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		optionsCaps:    transport.Capabilities{Preview: 1024, Allow204: true, Keepalive: true},
		status:         200,
		icapHeaders:    mustParse("ICAP/1.0 200 OK\r\nISTag: \"fake-1\"\r\nEncapsulated: res-hdr=0, res-body=38\r\n\r\n"),
		httpResHeaders: mustParse("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n"),
		body:           "adapted",
	}
}

func mustParse(raw string) *headers.List {
	l, err := headers.Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return l
}

func (t *fakeTransport) Connect(ctx context.Context, host string, port int, family Family) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	ch := &fakeChannel{t: t}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *fakeTransport) counts() (connects, options, exchanges, closes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.options, t.exchanges, t.closes
}

type fakeChannel struct {
	t      *fakeTransport
	closed bool
	dead   bool
}

func (c *fakeChannel) NewRequest(host, service string) TransportRequest {
	return &fakeRequest{ch: c, service: service, caps: transport.DefaultCapabilities()}
}

func (c *fakeChannel) Alive() bool {
	return !c.closed && !c.dead
}

func (c *fakeChannel) Close() error {
	if c.closed {
		return errors.New("closed twice")
	}
	c.closed = true
	c.t.mu.Lock()
	c.t.closes++
	c.t.mu.Unlock()
	return nil
}

type fakeRequest struct {
	ch       *fakeChannel
	service  string
	method   transport.Method
	caps     transport.Capabilities
	detached bool

	ttl           time.Duration
	istag         string
	status        int
	icapHeaders   *headers.List
	httpReq       *headers.List
	httpRes       *headers.List
	serverClosing bool
}

func (r *fakeRequest) ServerOptions(ctx context.Context, timeout time.Duration) (int, error) {
	t := r.ch.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.options++
	if t.optionsErr != nil {
		return 0, t.optionsErr
	}
	r.caps = t.optionsCaps
	r.ttl = t.optionsTTL
	r.serverClosing = t.closesOptions
	if r.serverClosing {
		r.caps.Keepalive = false
	}
	r.istag = "fake-1"
	return 200, nil
}

func (r *fakeRequest) Capabilities() transport.Capabilities     { return r.caps }
func (r *fakeRequest) SetCapabilities(c transport.Capabilities) { r.caps = c }
func (r *fakeRequest) SetMethod(m transport.Method)             { r.method = m }

func (r *fakeRequest) Reuse() {
	r.method = ""
	r.caps = transport.DefaultCapabilities()
	r.status = 0
	r.icapHeaders = nil
	r.httpReq = nil
	r.httpRes = nil
	r.serverClosing = false
}

func (r *fakeRequest) Exchange(ctx context.Context, timeout time.Duration, reqHdr, respHdr *headers.List, in io.Reader, out io.Writer) (int, error) {
	if r.detached {
		return 0, transport.NewConnectionError(transport.ErrDetached)
	}
	t := r.ch.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.exchanges++
	t.lastMethod = r.method
	t.lastTimeout = timeout
	t.lastCaps = r.caps
	t.lastService = r.service
	t.lastReqHdr = reqHdr
	t.lastRespHdr = respHdr
	if in != nil {
		t.lastBody, _ = io.ReadAll(in)
	}
	if t.exchangeErr != nil {
		return 0, t.exchangeErr
	}

	if out != nil && t.body != "" {
		if _, err := out.Write([]byte(t.body)); err != nil {
			return 0, err
		}
	}
	r.status = t.status
	r.icapHeaders = t.icapHeaders
	r.httpReq = t.httpReqHeaders
	r.httpRes = t.httpResHeaders
	r.serverClosing = t.closesExchange
	return t.status, nil
}

func (r *fakeRequest) ResponseHeaders() *headers.List     { return r.icapHeaders }
func (r *fakeRequest) HTTPRequestHeaders() *headers.List  { return r.httpReq }
func (r *fakeRequest) HTTPResponseHeaders() *headers.List { return r.httpRes }
func (r *fakeRequest) ServerClosing() bool                { return r.serverClosing }
func (r *fakeRequest) OptionsTTL() time.Duration          { return r.ttl }
func (r *fakeRequest) ISTag() string                      { return r.istag }
func (r *fakeRequest) Detach()                            { r.detached = true }
