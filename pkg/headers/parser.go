package headers

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/WhileEndless/go-icapclient/pkg/errors"
)

// DefaultMaxHeaderBytes bounds a header block read from the wire
const DefaultMaxHeaderBytes = 64 * 1024

// Parse parses a header block: a start line followed by fields, ending at
// the first empty line or at the end of data. Both CRLF and bare LF line
// endings are accepted. A field line starting with a space or tab continues
// the previous field.
func Parse(data []byte) (*List, error) {
	l := NewList()

	i := 0
	for i < len(data) {
		lineEnd := bytes.IndexByte(data[i:], '\n')
		next := len(data)
		if lineEnd == -1 {
			lineEnd = len(data)
		} else {
			lineEnd += i
			next = lineEnd + 1
		}
		line := strings.TrimRight(string(data[i:lineEnd]), "\r")
		i = next

		if len(strings.TrimSpace(line)) == 0 {
			break
		}

		if err := l.addParsedLine(line); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Read reads one header block from r, up to and including the empty line
// that terminates it. It returns the parsed list and the raw bytes consumed.
// maxBytes <= 0 means DefaultMaxHeaderBytes.
func Read(r *bufio.Reader, maxBytes int) (*List, []byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHeaderBytes
	}

	var raw bytes.Buffer
	lineStart := 0
	for {
		// ReadSlice hands back at most one buffer's worth, so the limit
		// holds even for a line that never ends
		frag, err := r.ReadSlice('\n')
		raw.Write(frag)
		if raw.Len() > maxBytes {
			return nil, raw.Bytes(), errors.NewError(errors.ErrorTypeInvalidFormat,
				"header block too large", "headers.Read", raw.Bytes())
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return nil, raw.Bytes(), err
		}

		line := raw.Bytes()[lineStart:]
		lineStart = raw.Len()

		// Blank line ends the block
		if len(line) == 2 && line[0] == '\r' && line[1] == '\n' {
			break
		}
		if len(line) == 1 && line[0] == '\n' {
			break
		}
	}

	l, err := Parse(raw.Bytes())
	if err != nil {
		return nil, raw.Bytes(), err
	}
	return l, raw.Bytes(), nil
}

func (l *List) addParsedLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		l.entries = append(l.entries, StartLine(line))
		return nil
	}

	if line[0] == ' ' || line[0] == '\t' {
		last := len(l.entries) - 1
		if l.entries[last].Kind != KindField {
			return errors.NewError(errors.ErrorTypeMalformedHeader,
				"continuation line without a preceding field", "headers.Parse", []byte(line))
		}
		l.entries[last].Value += " " + strings.TrimSpace(line)
		return nil
	}

	name, value := SplitLine(line)
	l.entries = append(l.entries, Field(name, value))
	return nil
}

// Bytes renders the block in wire form: CRLF after each entry and a final
// empty line
func (l *List) Bytes() []byte {
	var buf bytes.Buffer
	l.AppendTo(&buf)
	return buf.Bytes()
}

// AppendTo writes the block in wire form to buf and returns the number of
// bytes written
func (l *List) AppendTo(buf *bytes.Buffer) int {
	start := buf.Len()
	for e := range l.All() {
		buf.WriteString(e.String())
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Len() - start
}

// Lines returns the entries rendered as wire lines, without line endings
func (l *List) Lines() []string {
	lines := make([]string, 0, l.Len())
	for e := range l.All() {
		lines = append(lines, e.String())
	}
	return lines
}
