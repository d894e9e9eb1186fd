// Package chunked implements the chunked transfer coding used for every
// ICAP encapsulated body, including the chunk extensions ICAP relies on
// ("ieof" at the end of a preview, "use-original-body" on 206 responses).
package chunked

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-icapclient/pkg/errors"
)

// ExtIEOF marks a zero-length chunk that ends the body inside the preview
const ExtIEOF = "ieof"

// maxLineLength bounds a chunk-size line
const maxLineLength = 4096

// Writer encodes everything written to it as chunks
type Writer struct {
	w      io.Writer
	closed bool
}

// NewWriter returns a Writer that sends chunks to w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write sends p as a single chunk. Empty writes send nothing, since a
// zero-length chunk terminates the body.
func (cw *Writer) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}

	if _, err := fmt.Fprintf(cw.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminating zero-length chunk
func (cw *Writer) Close() error {
	return cw.CloseWithExtension("")
}

// CloseWithExtension writes the terminating zero-length chunk carrying the
// given chunk extension, e.g. ExtIEOF
func (cw *Writer) CloseWithExtension(ext string) error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	last := "0\r\n\r\n"
	if ext != "" {
		last = "0; " + ext + "\r\n\r\n"
	}
	_, err := io.WriteString(cw.w, last)
	return err
}

// Reader decodes a chunked body. It returns io.EOF after the terminating
// chunk and its trailer section have been consumed.
type Reader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
	ext       string
	total     int64
}

// NewReader returns a Reader that decodes chunks from r
func NewReader(r *bufio.Reader) *Reader {
	return &Reader{r: r}
}

// Read reads decoded body bytes
func (cr *Reader) Read(p []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if cr.remaining == 0 {
		if err := cr.nextChunk(); err != nil {
			return 0, err
		}
		if cr.done {
			return 0, io.EOF
		}
	}

	if int64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.Read(p)
	cr.remaining -= int64(n)
	cr.total += int64(n)
	if err == io.EOF {
		return n, io.ErrUnexpectedEOF
	}
	if err != nil {
		return n, err
	}

	if cr.remaining == 0 {
		if err := cr.readCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Extension returns the extension of the last chunk-size line read, such as
// "ieof" or "use-original-body=0"
func (cr *Reader) Extension() string {
	return cr.ext
}

// Done reports whether the terminating chunk has been read
func (cr *Reader) Done() bool {
	return cr.done
}

// Total returns the number of decoded bytes read so far
func (cr *Reader) Total() int64 {
	return cr.total
}

func (cr *Reader) nextChunk() error {
	line, err := cr.readLine()
	if err != nil {
		return err
	}

	sizeStr := line
	cr.ext = ""
	if idx := strings.IndexByte(line, ';'); idx != -1 {
		sizeStr = line[:idx]
		cr.ext = strings.TrimSpace(line[idx+1:])
	}
	sizeStr = strings.TrimSpace(sizeStr)

	size, err := strconv.ParseInt(sizeStr, 16, 64)
	if err != nil || size < 0 {
		return errors.NewError(errors.ErrorTypeInvalidChunk,
			"invalid chunk size "+strconv.Quote(sizeStr), "chunked.Reader", []byte(line))
	}

	if size == 0 {
		// Trailer section, ends with an empty line
		for {
			trailer, err := cr.readLine()
			if err != nil {
				return err
			}
			if trailer == "" {
				break
			}
		}
		cr.done = true
		return nil
	}

	cr.remaining = size
	return nil
}

func (cr *Reader) readCRLF() error {
	line, err := cr.readLine()
	if err != nil {
		return err
	}
	if line != "" {
		return errors.NewError(errors.ErrorTypeInvalidChunk,
			"missing CRLF after chunk data", "chunked.Reader", []byte(line))
	}
	return nil
}

func (cr *Reader) readLine() (string, error) {
	var sb strings.Builder
	for {
		part, isPrefix, err := cr.r.ReadLine()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", err
		}
		sb.Write(part)
		if sb.Len() > maxLineLength {
			return "", errors.NewError(errors.ErrorTypeInvalidChunk,
				"chunk line too long", "chunked.Reader", nil)
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}
