package icap

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/chunked"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// loopbackServer answers the n-th accepted connection with handlers[n]
// and closes it afterwards
type loopbackServer struct {
	ln       net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	requests []*headers.List
}

func startLoopback(t *testing.T, handlers ...func(s *loopbackServer, br *bufio.Reader, conn net.Conn)) *loopbackServer {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	s := &loopbackServer{ln: ln}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, handle := range handlers {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			handle(s, bufio.NewReader(conn), conn)
			conn.Close()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *loopbackServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// read consumes one ICAP request with its encapsulated sections and body
func (s *loopbackServer) read(br *bufio.Reader) (*headers.List, error) {
	h, _, err := headers.Read(br, 0)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, h)
	s.mu.Unlock()

	value, _ := h.Get("Encapsulated")
	sections, err := transport.ParseEncapsulated(value)
	if err != nil {
		return nil, err
	}
	last := sections[len(sections)-1]
	if _, err := io.CopyN(io.Discard, br, int64(last.Offset)); err != nil {
		return nil, err
	}
	if last.IsBody() && last.Name != transport.SectionNullBody {
		if _, err := io.Copy(io.Discard, chunked.NewReader(br)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (s *loopbackServer) seen() []*headers.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*headers.List(nil), s.requests...)
}

func TestSession_NetServerClosesAfterOptions(t *testing.T) {
	srv := startLoopback(t,
		func(s *loopbackServer, br *bufio.Reader, conn net.Conn) {
			if _, err := s.read(br); err != nil {
				return
			}
			conn.Write([]byte("ICAP/1.0 200 OK\r\nAllow: 204\r\nISTag: \"close-1\"\r\nConnection: close\r\nEncapsulated: null-body=0\r\n\r\n"))
		},
		func(s *loopbackServer, br *bufio.Reader, conn net.Conn) {
			if _, err := s.read(br); err != nil {
				return
			}
			conn.Write([]byte("ICAP/1.0 204 No Content\r\nISTag: \"close-1\"\r\nEncapsulated: null-body=0\r\n\r\n"))
		},
	)

	s, err := NewSession("127.0.0.1", Config{Port: srv.port(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	defer s.Close()

	if err := s.Request(context.Background(), MethodRespmod, writeBody(t, "0123456789"), RequestOptions{}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	resp, err := s.GetResponse()
	if err != nil {
		t.Fatalf("GetResponse failed: %v", err)
	}
	defer resp.Release()
	if resp.Status() != 204 {
		t.Errorf("Status() = %d, want 204", resp.Status())
	}

	seen := srv.seen()
	if len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	if line, _ := seen[0].StartLine(); !strings.HasPrefix(line, "OPTIONS ") {
		t.Errorf("first request = %q, want OPTIONS", line)
	}
	if line, _ := seen[1].StartLine(); !strings.HasPrefix(line, "RESPMOD ") {
		t.Errorf("second request = %q, want RESPMOD", line)
	}
	if v, _ := seen[1].Get("Connection"); v != "close" {
		t.Errorf("Connection = %q on the adaptation request, want close", v)
	}
	if v, _ := seen[1].Get("Allow"); v != "204" {
		t.Errorf("Allow = %q, want the negotiated 204", v)
	}
	if s.Connection().Connected() {
		t.Error("channel should be released after the request")
	}
}
