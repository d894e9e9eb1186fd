package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/go-icapclient/pkg/headers"
	"github.com/WhileEndless/go-icapclient/pkg/version"
)

// Family selects the IP address family used to reach the server
type Family int

const (
	FamilyInet Family = iota
	FamilyInet6
)

// Network returns the dial network for the family
func (f Family) Network() string {
	if f == FamilyInet6 {
		return "tcp6"
	}
	return "tcp4"
}

func (f Family) String() string {
	switch f {
	case FamilyInet:
		return "AF_INET"
	case FamilyInet6:
		return "AF_INET6"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Valid reports whether f is a supported family
func (f Family) Valid() bool {
	return f == FamilyInet || f == FamilyInet6
}

// Options represents configuration options for ICAP connections
type Options struct {
	// Timeout options
	ConnTimeout time.Duration // Connection timeout (default: 30s)

	// TLS options (ICAPS)
	TLS                bool     // Wrap the connection in TLS
	ServerName         string   // SNI / verification name (default: the dialed host)
	DisableSNI         bool     // Disable SNI (Server Name Indication)
	InsecureSkipVerify bool     // Skip TLS certificate verification
	CustomCACerts      [][]byte // Custom CA certificates in PEM format

	// Proxy options
	ProxyURL string // Upstream proxy URL ("socks5://proxy:1080" or "http://proxy:8080")

	// Protocol options
	UserAgent      string // User-Agent header (default: go-icapclient/<version>)
	MaxHeaderBytes int    // Largest header block accepted from the server (default: 64KB)

	// Logger receives debug events; nil disables logging
	Logger *zerolog.Logger
}

// SetDefaults sets default values for unspecified options
func (o *Options) SetDefaults() {
	if o.ConnTimeout == 0 {
		o.ConnTimeout = 30 * time.Second
	}

	if o.UserAgent == "" {
		o.UserAgent = version.UserAgent()
	}

	if o.MaxHeaderBytes == 0 {
		o.MaxHeaderBytes = headers.DefaultMaxHeaderBytes
	}
}

// BuildTLSConfig builds a TLS configuration from options
func (o *Options) BuildTLSConfig(host string) *tls.Config {
	config := &tls.Config{
		InsecureSkipVerify: o.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	// Set SNI
	if !o.DisableSNI {
		config.ServerName = host
		if o.ServerName != "" {
			config.ServerName = o.ServerName
		}
	}

	// Add custom CA certificates
	if len(o.CustomCACerts) > 0 {
		certPool := x509.NewCertPool()
		for _, cert := range o.CustomCACerts {
			certPool.AppendCertsFromPEM(cert)
		}
		config.RootCAs = certPool
	}

	return config
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}
