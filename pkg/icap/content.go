package icap

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

var errContentReleased = errors.New("content buffer released")

// Content is the adapted body of an exchange. The session writes it while
// streaming and every Response built from that exchange reads it; the
// pooled buffer is returned when the last holder calls Release.
//
// A nil *Content is an empty body.
type Content struct {
	mu   sync.Mutex
	buf  *bytebufferpool.ByteBuffer
	refs atomic.Int32
}

func newContent() *Content {
	c := &Content{buf: bytebufferpool.Get()}
	c.refs.Store(1)
	return c
}

// Write appends p. It holds the lock only for the append.
func (c *Content) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil {
		return 0, errContentReleased
	}
	return c.buf.Write(p)
}

// Retain adds a holder
func (c *Content) Retain() *Content {
	if c != nil {
		c.refs.Add(1)
	}
	return c
}

// Release drops a holder. The buffer goes back to the pool with the last one.
func (c *Content) Release() {
	if c == nil {
		return
	}
	if c.refs.Add(-1) != 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf != nil {
		bytebufferpool.Put(c.buf)
		c.buf = nil
	}
}

// Len returns the body length
func (c *Content) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil {
		return 0
	}
	return c.buf.Len()
}

// Bytes returns a copy of the body
func (c *Content) Bytes() []byte {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil {
		return nil
	}
	return bytes.Clone(c.buf.B)
}

func (c *Content) String() string {
	return string(c.Bytes())
}

// Reader returns a reader over a copy of the body
func (c *Content) Reader() io.Reader {
	return bytes.NewReader(c.Bytes())
}
