package icap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies the failures of the client
type Kind int

const (
	KindConfiguration        Kind = iota + 1 // bad argument, no I/O performed
	KindIO                                   // local body file could not be opened
	KindConnect                              // the server could not be reached
	KindNegotiation                          // the OPTIONS exchange failed
	KindRequest                              // the REQMOD/RESPMOD exchange failed
	KindProtocol                             // malformed ICAP status line
	KindNoRequestSent                        // GetResponse before a completed request
	KindResponseConstruction                 // the stored response cannot become a Response
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindIO:
		return "I/O error"
	case KindConnect:
		return "connect failure"
	case KindNegotiation:
		return "negotiation failure"
	case KindRequest:
		return "request failure"
	case KindProtocol:
		return "protocol error"
	case KindNoRequestSent:
		return "no request sent"
	case KindResponseConstruction:
		return "response construction failure"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error is returned by every operation of the package
type Error struct {
	Kind     Kind
	Message  string
	Host     string // set for connect, negotiation and request failures
	Port     int
	Filename string // set for I/O errors
	Line     string // offending status line of protocol errors
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	switch {
	case e.Filename != "":
		msg += " " + strconv.Quote(e.Filename)
	case e.Line != "":
		msg += " " + strconv.Quote(e.Line)
	case e.Host != "":
		msg += " '" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + "'"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error, for github.com/pkg/errors.Cause
func (e *Error) Cause() error {
	return e.Err
}

// Format prints the cause's stack trace with %+v
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.Err != nil {
			fmt.Fprintf(s, "%s: %+v", e.Kind, e.Err)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func configError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// wrapCause records the stack of the failure site on the cause
func wrapCause(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}
