package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/chunked"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
	"github.com/WhileEndless/go-icapclient/pkg/transport"
)

// scriptedServer accepts one connection on a loopback listener and runs
// handler on it. The connection stays open until the test ends.
type scriptedServer struct {
	ln   net.Listener
	stop chan struct{}
	done chan struct{}
}

func startServer(t *testing.T, handler func(br *bufio.Reader, conn net.Conn)) *scriptedServer {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	s := &scriptedServer{ln: ln, stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(s.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(bufio.NewReader(conn), conn)
		<-s.stop
	}()

	t.Cleanup(func() {
		close(s.stop)
		ln.Close()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("scripted server did not finish")
		}
	})
	return s
}

func (s *scriptedServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scriptedServer) dial(t *testing.T) *transport.Conn {
	t.Helper()
	c, err := transport.Dial(context.Background(), "127.0.0.1", s.port(), transport.FamilyInet, transport.Options{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// icapRequest is what the scripted server saw of one client request
type icapRequest struct {
	header  *headers.List
	reqHdr  *headers.List
	resHdr  *headers.List
	body    []byte
	bodyExt string
}

// readRequest reads an ICAP request with its encapsulated sections. When
// the request carries a preview, only the preview part of the body is read.
func readRequest(br *bufio.Reader) (*icapRequest, error) {
	h, _, err := headers.Read(br, 0)
	if err != nil {
		return nil, err
	}
	req := &icapRequest{header: h}

	value, ok := h.Get("Encapsulated")
	if !ok {
		return req, nil
	}
	sections, err := transport.ParseEncapsulated(value)
	if err != nil {
		return nil, err
	}
	for i, s := range sections {
		if s.IsBody() {
			break
		}
		raw := make([]byte, sections[i+1].Offset-s.Offset)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, err
		}
		block, err := headers.Parse(raw)
		if err != nil {
			return nil, err
		}
		if s.Name == transport.SectionReqHdr {
			req.reqHdr = block
		} else {
			req.resHdr = block
		}
	}

	last := sections[len(sections)-1]
	if last.Name == transport.SectionReqBody || last.Name == transport.SectionResBody {
		req.body, req.bodyExt, err = readBody(br)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func readBody(br *bufio.Reader) ([]byte, string, error) {
	cr := chunked.NewReader(br)
	body, err := io.ReadAll(cr)
	return body, cr.Extension(), err
}

// chunk renders data as a chunked body ending with the given terminator
// extension
func chunk(data, ext string) string {
	var sb strings.Builder
	if data != "" {
		sb.WriteString(strconv.FormatInt(int64(len(data)), 16) + "\r\n" + data + "\r\n")
	}
	sb.WriteString("0")
	if ext != "" {
		sb.WriteString("; " + ext)
	}
	sb.WriteString("\r\n\r\n")
	return sb.String()
}

const optionsReply = "ICAP/1.0 200 OK\r\n" +
	"Methods: RESPMOD, REQMOD\r\n" +
	"ISTag: \"W3E4R7U9\"\r\n" +
	"Allow: 204, 206\r\n" +
	"Preview: 1024\r\n" +
	"Max-Connections: 10\r\n" +
	"Options-TTL: 60\r\n" +
	"Encapsulated: null-body=0\r\n" +
	"\r\n"
