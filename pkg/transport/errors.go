package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	wireerrors "github.com/WhileEndless/go-icapclient/pkg/errors"
)

// Error types for different failure scenarios
var (
	ErrDNSResolution     = errors.New("DNS resolution failed")
	ErrConnection        = errors.New("connection failed")
	ErrTLSHandshake      = errors.New("TLS handshake failed")
	ErrTimeout           = errors.New("operation timeout")
	ErrProxyConnection   = errors.New("proxy connection failed")
	ErrDetached          = errors.New("request is not bound to a connection")
	ErrClosed            = errors.New("connection closed")
	ErrUnexpectedStatus  = errors.New("unexpected ICAP status")
	ErrUnsupportedMethod = errors.New("unsupported ICAP method")
	ErrProtocol          = errors.New("ICAP protocol error")
	ErrSource            = errors.New("body source failed")
)

// ErrorType represents different error categories
type ErrorType int

const (
	ErrorTypeDNS ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTLS
	ErrorTypeTimeout
	ErrorTypeProtocol
	ErrorTypeProxy
	ErrorTypeSource
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeDNS:
		return "dns"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeTLS:
		return "tls"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeProtocol:
		return "protocol"
	case ErrorTypeProxy:
		return "proxy"
	case ErrorTypeSource:
		return "source"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Error represents a detailed transport error with categorization
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's category, so that
// errors.Is(err, ErrTimeout) holds for every timeout
func (e *Error) Is(target error) bool {
	switch e.Type {
	case ErrorTypeDNS:
		return target == ErrDNSResolution
	case ErrorTypeConnection:
		return target == ErrConnection
	case ErrorTypeTLS:
		return target == ErrTLSHandshake
	case ErrorTypeTimeout:
		return target == ErrTimeout
	case ErrorTypeProtocol:
		return target == ErrProtocol
	case ErrorTypeProxy:
		return target == ErrProxyConnection
	case ErrorTypeSource:
		return target == ErrSource
	}
	return false
}

// NewDNSError creates a DNS resolution error
func NewDNSError(err error) *Error {
	return &Error{
		Type:    ErrorTypeDNS,
		Message: "DNS resolution failed",
		Err:     err,
	}
}

// NewConnectionError creates a connection error
func NewConnectionError(err error) *Error {
	return &Error{
		Type:    ErrorTypeConnection,
		Message: "connection failed",
		Err:     err,
	}
}

// NewTLSError creates a TLS handshake error
func NewTLSError(err error) *Error {
	return &Error{
		Type:    ErrorTypeTLS,
		Message: "TLS handshake failed",
		Err:     err,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(err error) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Message: "operation timeout",
		Err:     err,
	}
}

// NewProxyError creates a proxy connection error
func NewProxyError(err error) *Error {
	return &Error{
		Type:    ErrorTypeProxy,
		Message: "proxy connection failed",
		Err:     err,
	}
}

// NewProtocolError creates an ICAP protocol error
func NewProtocolError(err error) *Error {
	return &Error{
		Type:    ErrorTypeProtocol,
		Message: "protocol error",
		Err:     err,
	}
}

// NewSourceError creates an error for a failing body source
func NewSourceError(err error) *Error {
	return &Error{
		Type:    ErrorTypeSource,
		Message: "reading request body failed",
		Err:     err,
	}
}

// IsTimeout reports whether err is a transport timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// classifyIOError maps a socket error to a typed transport error. A
// cancelled context wins over the deadline error it caused.
func classifyIOError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewTimeoutError(ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	var pe *wireerrors.Error
	if errors.As(err, &pe) {
		return NewProtocolError(err)
	}
	return NewConnectionError(err)
}
