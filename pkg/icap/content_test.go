package icap

import (
	"io"
	"sync"
	"testing"
)

func TestContent_WriteAndRead(t *testing.T) {
	c := newContent()
	defer c.Release()

	c.Write([]byte("hello "))
	c.Write([]byte("world"))

	if c.Len() != 11 {
		t.Errorf("Len() = %d, want 11", c.Len())
	}
	if c.String() != "hello world" {
		t.Errorf("String() = %q", c.String())
	}
	data, _ := io.ReadAll(c.Reader())
	if string(data) != "hello world" {
		t.Errorf("Reader() read %q", data)
	}

	// Bytes returns a copy
	b := c.Bytes()
	b[0] = 'j'
	if c.String() != "hello world" {
		t.Error("Bytes() exposed the internal buffer")
	}
}

func TestContent_ReferenceCounting(t *testing.T) {
	c := newContent()
	c.Write([]byte("data"))

	c.Retain()
	c.Release()
	if c.String() != "data" {
		t.Fatal("buffer released while still held")
	}

	c.Release()
	if c.Len() != 0 || c.Bytes() != nil {
		t.Error("buffer should be gone after the last Release")
	}
	if _, err := c.Write([]byte("late")); err == nil {
		t.Error("Write after release should fail")
	}
}

func TestContent_Nil(t *testing.T) {
	var c *Content
	c.Release()
	if c.Retain() != nil || c.Len() != 0 || c.Bytes() != nil || c.String() != "" {
		t.Error("nil Content should behave as an empty body")
	}
}

func TestContent_ConcurrentWrites(t *testing.T) {
	c := newContent()
	defer c.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Write([]byte("0123456789"))
			}
		}()
	}
	wg.Wait()

	if c.Len() != 8*100*10 {
		t.Errorf("Len() = %d, want %d", c.Len(), 8*100*10)
	}
}
