package icap

import (
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// ResponseState is what an exchange leaves behind for response
// construction
type ResponseState struct {
	Status              int // status returned by the exchange
	ICAPHeaders         *headers.List
	HTTPRequestHeaders  *headers.List
	HTTPResponseHeaders *headers.List
	Content             *Content
}

// ParseResponse builds a Response from the state of a completed exchange.
// It either returns a complete Response or an error, never both.
//
// The Response takes its own reference on state.Content.
func ParseResponse(state ResponseState) (*Response, error) {
	resp := &Response{}

	if state.ICAPHeaders == nil || state.ICAPHeaders.Len() == 0 {
		// Legacy servers drop the headers of a 204
		if state.Status != 204 {
			return nil, &Error{Kind: KindProtocol, Message: "no ICAP response line found"}
		}
		resp.status = 204
		resp.reason = "Unmodified"
	} else {
		entries := state.ICAPHeaders.Fields()
		line, ok := state.ICAPHeaders.StartLine()
		if !ok {
			return nil, &Error{Kind: KindResponseConstruction, Message: "cannot parse the ICAP response line"}
		}
		status, reason, ok := scanStatusLine(line)
		if !ok {
			return nil, &Error{Kind: KindProtocol, Message: "cannot parse the ICAP response line", Line: line}
		}
		resp.status = status
		resp.reason = reason
		resp.icapHeaders = entries
	}

	if line, fields, ok := embedded(state.HTTPRequestHeaders); ok {
		resp.httpRequest = &HTTPRequestHeaders{Line: line, Fields: fields}
	}
	if line, fields, ok := embedded(state.HTTPResponseHeaders); ok {
		resp.httpResponse = &HTTPResponseHeaders{Line: line, Fields: fields}
	}

	resp.content = state.Content.Retain()
	return resp, nil
}

// embedded splits an embedded HTTP header block into its start line and
// fields. An absent or empty block reports false.
func embedded(l *headers.List) (string, []headers.Entry, bool) {
	if l == nil || l.Len() == 0 {
		return "", nil, false
	}
	line, _ := l.StartLine()
	return line, l.Fields(), true
}

// scanStatusLine matches "ICAP/<major>.<minor> <status> <reason>". Like
// scanf, numbers may carry leading blanks and a sign, and the blanks
// between the status and the reason are optional. The reason is the rest
// of the line after those blanks.
func scanStatusLine(line string) (status int, reason string, ok bool) {
	const prefix = "ICAP/"
	if len(line) < len(prefix) || line[:len(prefix)] != prefix {
		return 0, "", false
	}
	rest := line[len(prefix):]

	if _, rest, ok = scanInt(rest); !ok {
		return 0, "", false
	}
	if rest == "" || rest[0] != '.' {
		return 0, "", false
	}
	if _, rest, ok = scanInt(rest[1:]); !ok {
		return 0, "", false
	}
	if status, rest, ok = scanInt(rest); !ok {
		return 0, "", false
	}
	return status, skipBlanks(rest), true
}

// scanInt reads a decimal integer after optional blanks
func scanInt(s string) (int, string, bool) {
	s = skipBlanks(s)

	i, neg := 0, false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	n := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		i++
	}
	if i == start {
		return 0, s, false
	}
	if neg {
		n = -n
	}
	return n, s[i:], true
}

func skipBlanks(s string) string {
	i := 0
	for i < len(s) && isBlank(s[i]) {
		i++
	}
	return s[i:]
}

func isBlank(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
