package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/idna"
	"golang.org/x/net/proxy"
)

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an established channel to one ICAP server
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	host   string
	port   int
	family Family
	opts   Options
	log    zerolog.Logger
	timing Timing
	closed bool
	broken bool
}

// Dial connects to host:port over the given address family, through the
// configured proxy and TLS layer when set
func Dial(ctx context.Context, host string, port int, family Family, opts Options) (*Conn, error) {
	opts.SetDefaults()

	if port < 0 || port > 0xffff {
		return nil, NewConnectionError(fmt.Errorf("invalid port %d", port))
	}
	if !family.Valid() {
		return nil, NewConnectionError(fmt.Errorf("invalid address family %v", family))
	}

	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, NewDNSError(fmt.Errorf("invalid host %q: %w", host, err))
	}

	c := &Conn{
		host:   asciiHost,
		port:   port,
		family: family,
		opts:   opts,
	}
	c.log = opts.logger().With().Str("host", asciiHost).Int("port", port).Logger()

	startTime := time.Now()
	conn, err := c.connect(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("connect failed")
		return nil, err
	}
	c.timing.Total = time.Since(startTime)

	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	c.log.Debug().Str("remote", conn.RemoteAddr().String()).Dur("elapsed", c.timing.Total).Msg("connected")
	return c, nil
}

// connect establishes a connection (with proxy support if configured)
func (c *Conn) connect(ctx context.Context) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if c.opts.ProxyURL != "" {
		conn, err = c.connectViaProxy(ctx)
	} else {
		conn, err = c.connectDirect(ctx)
	}
	if err != nil {
		return nil, err
	}

	if c.opts.TLS {
		return c.handshake(ctx, conn)
	}
	return conn, nil
}

// connectDirect resolves the host within the family and dials it
func (c *Conn) connectDirect(ctx context.Context) (net.Conn, error) {
	targetIP := c.host
	if net.ParseIP(c.host) == nil {
		dnsStart := time.Now()
		ips, err := net.DefaultResolver.LookupIP(ctx, familyIPNetwork(c.family), c.host)
		if err != nil {
			return nil, NewDNSError(err)
		}
		if len(ips) == 0 {
			return nil, NewDNSError(fmt.Errorf("no %s addresses found for host: %s", c.family, c.host))
		}
		targetIP = ips[0].String()
		c.timing.DNSLookup = time.Since(dnsStart)
	}

	tcpStart := time.Now()
	dialer := &net.Dialer{
		Timeout: c.opts.ConnTimeout,
	}
	conn, err := dialer.DialContext(ctx, c.family.Network(), net.JoinHostPort(targetIP, strconv.Itoa(c.port)))
	if err != nil {
		return nil, NewConnectionError(err)
	}
	c.timing.TCPConnect = time.Since(tcpStart)
	return conn, nil
}

// connectViaProxy establishes a connection through an upstream proxy
func (c *Conn) connectViaProxy(ctx context.Context) (net.Conn, error) {
	proxyStart := time.Now()

	proxyURL, err := url.Parse(c.opts.ProxyURL)
	if err != nil {
		return nil, NewProxyError(fmt.Errorf("invalid proxy URL: %w", err))
	}

	forward := &net.Dialer{
		Timeout: c.opts.ConnTimeout,
	}
	targetAddr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var conn net.Conn
	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(proxyURL, forward)
		if err != nil {
			return nil, NewProxyError(err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			conn, err = cd.DialContext(ctx, c.family.Network(), targetAddr)
		} else {
			conn, err = d.Dial(c.family.Network(), targetAddr)
		}
		if err != nil {
			return nil, NewProxyError(err)
		}
	case "http":
		conn, err = c.connectHTTPTunnel(ctx, forward, proxyURL.Host, targetAddr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, NewProxyError(fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme))
	}

	c.timing.ProxyConnect = time.Since(proxyStart)
	return conn, nil
}

// connectHTTPTunnel opens a CONNECT tunnel to targetAddr through an HTTP proxy
func (c *Conn) connectHTTPTunnel(ctx context.Context, dialer *net.Dialer, proxyAddr, targetAddr string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, NewProxyError(err)
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", targetAddr, targetAddr)
	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, NewProxyError(fmt.Errorf("failed to send CONNECT: %w", err))
	}

	// The proxy answers before the tunnel carries any ICAP byte, so reading
	// one byte at a time keeps the tunnel clean
	reader := bufio.NewReaderSize(&byteReader{conn: conn}, 16)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, NewProxyError(fmt.Errorf("failed to read CONNECT response: %w", err))
	}

	fields := strings.Fields(statusLine)
	if len(fields) < 2 || fields[1] != "200" {
		conn.Close()
		return nil, NewProxyError(fmt.Errorf("CONNECT failed: %s", strings.TrimSpace(statusLine)))
	}

	// Read and discard headers
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, NewProxyError(err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	return conn, nil
}

// handshake wraps conn in TLS
func (c *Conn) handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tlsStart := time.Now()
	tlsConn := tls.Client(conn, c.opts.BuildTLSConfig(c.host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, NewTLSError(err)
	}
	c.timing.TLSHandshake = time.Since(tlsStart)
	return tlsConn, nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.log.Debug().Msg("connection closed")
	return c.conn.Close()
}

// Alive reports whether the connection can carry another exchange: it is
// open, no earlier exchange failed mid-stream, and the server neither closed
// it nor sent unsolicited bytes
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.broken {
		return false
	}
	if c.br.Buffered() > 0 {
		return false
	}

	// Set a very short read deadline
	c.conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	defer c.conn.SetReadDeadline(time.Time{})

	_, err := c.br.Peek(1)

	// If we get a timeout, connection is alive (no data to read)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	// Any other error, EOF or pending data means the connection is unusable
	return false
}

// Host returns the ASCII host name the connection was dialed with
func (c *Conn) Host() string {
	return c.host
}

// Port returns the server port
func (c *Conn) Port() int {
	return c.port
}

// Family returns the address family used to dial
func (c *Conn) Family() Family {
	return c.family
}

// RemoteAddr returns the address of the server end
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Timing returns the connection establishment timings
func (c *Conn) Timing() Timing {
	return c.timing
}

// arm applies the timeout as a deadline for the whole call and makes
// cancellation of ctx interrupt blocked reads and writes. The returned
// function clears both.
func (c *Conn) arm(ctx context.Context, timeout time.Duration) func() {
	if timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(aLongTimeAgo)
	})
	return func() {
		stop()
		c.conn.SetDeadline(time.Time{})
	}
}

// usable returns an error when the connection cannot start an exchange
func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return NewConnectionError(ErrClosed)
	}
	if c.broken {
		return NewConnectionError(fmt.Errorf("previous exchange failed: %w", ErrClosed))
	}
	return nil
}

func (c *Conn) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func familyIPNetwork(f Family) string {
	if f == FamilyInet6 {
		return "ip6"
	}
	return "ip4"
}

// byteReader reads a single byte per call
type byteReader struct {
	conn net.Conn
}

func (b *byteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return b.conn.Read(p)
}
