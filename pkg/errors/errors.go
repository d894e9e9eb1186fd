// Package errors defines the structured error reported when ICAP or embedded
// HTTP wire data cannot be parsed.
package errors

import "fmt"

// ErrorType represents different types of wire parsing errors
type ErrorType int

const (
	ErrorTypeInvalidFormat ErrorType = iota
	ErrorTypeMalformedHeader
	ErrorTypeInvalidStatusLine
	ErrorTypeInvalidEncapsulated
	ErrorTypeInvalidChunk
	ErrorTypeCompressionError
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidFormat:
		return "invalid format"
	case ErrorTypeMalformedHeader:
		return "malformed header"
	case ErrorTypeInvalidStatusLine:
		return "invalid status line"
	case ErrorTypeInvalidEncapsulated:
		return "invalid encapsulated header"
	case ErrorTypeInvalidChunk:
		return "invalid chunk"
	case ErrorTypeCompressionError:
		return "compression error"
	default:
		return fmt.Sprintf("error type %d", int(t))
	}
}

// Error represents a structured wire parsing error
type Error struct {
	Type    ErrorType
	Message string
	Context string
	Raw     []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("icapclient: %s (context: %s)", e.Message, e.Context)
}

// NewError creates a new Error
func NewError(errType ErrorType, message, context string, raw []byte) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Context: context,
		Raw:     raw,
	}
}

// IsParseError checks if an error is a parsing error
func IsParseError(err error) bool {
	_, ok := err.(*Error)
	return ok
}
