package icap

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// Family selects the IP address family used to reach the server
type Family = transport.Family

const (
	FamilyInet  = transport.FamilyInet
	FamilyInet6 = transport.FamilyInet6
)

// Method is an adaptation mode
type Method = transport.Method

const (
	MethodReqmod  = transport.MethodReqmod
	MethodRespmod = transport.MethodRespmod
)

// Defaults applied by Config.SetDefaults and RequestOptions
const (
	DefaultPort    = 1344
	DefaultService = "avscan"
	DefaultURL     = "/"
	DefaultTimeout = 300 * time.Second
)

// Config holds the settings of a Session
type Config struct {
	Port    int           // ICAP server port (default: 1344)
	Family  Family        // Address family (default: FamilyInet)
	Service string        // Service used when a request names none (default: avscan)
	Timeout time.Duration // Negotiation and exchange timeout (default: 300s)

	// Logger receives debug events; nil disables logging
	Logger *zerolog.Logger

	// Transport configures the network channel (TLS, proxy, user agent)
	Transport transport.Options

	// Dialer replaces the network transport, mainly for tests
	Dialer Transport
}

// SetDefaults sets default values for unspecified options
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.Service == "" {
		c.Service = DefaultService
	}

	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
}

// Validate checks the settings. It performs no I/O.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 0xffff {
		return configError(fmt.Sprintf("port %d out of range", c.Port))
	}
	if !c.Family.Valid() {
		return configError(fmt.Sprintf("unsupported address family %v", c.Family))
	}
	if c.Timeout < 0 {
		return configError("timeout must be positive (or zero)")
	}
	return nil
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

func (c *Config) dialer() Transport {
	if c.Dialer != nil {
		return c.Dialer
	}
	return NewNetTransport(c.Transport)
}

// RequestOptions are the optional arguments of Session.Request
type RequestOptions struct {
	URL     string // URL of the embedded HTTP request (default: "/")
	Service string // ICAP service (default: the session's service)

	// Timeout bounds negotiation and the exchange. Zero uses the session
	// timeout; negative values are rejected.
	Timeout time.Duration

	// NoTimeout runs negotiation and the exchange without a deadline. It
	// cannot be combined with a positive Timeout.
	NoTimeout bool

	// DiscardContent drops the adapted body instead of buffering it
	DiscardContent bool
}

func (o *RequestOptions) setDefaults(cfg *Config) {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Service == "" {
		o.Service = cfg.Service
	}
	if o.Timeout == 0 && !o.NoTimeout {
		o.Timeout = cfg.Timeout
	}
}
