package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/chunked"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// useOriginalBody is the chunk extension of a 206 response telling the
// client to append the original body from the given offset
const useOriginalBody = "use-original-body="

// Exchange sends a REQMOD or RESPMOD request and reads the server's answer.
//
// reqHdr and respHdr are the embedded HTTP header blocks (respHdr is only
// sent with RESPMOD). The body is read from in and sent chunked, with a
// preview first when one was negotiated; a nil in sends no body. The
// adapted body of the response is decoded and written to out; a nil out
// discards it. The returned value is the final ICAP status.
//
// timeout bounds the whole exchange, zero means no limit. Cancelling ctx
// aborts blocked socket I/O.
func (r *Request) Exchange(ctx context.Context, timeout time.Duration, reqHdr, respHdr *headers.List, in io.Reader, out io.Writer) (int, error) {
	if r.conn == nil {
		return 0, NewConnectionError(ErrDetached)
	}
	if r.method != MethodReqmod && r.method != MethodRespmod {
		return 0, NewProtocolError(fmt.Errorf("%w %q", ErrUnsupportedMethod, r.method))
	}
	c := r.conn
	if err := c.usable(); err != nil {
		return 0, err
	}

	disarm := c.arm(ctx, timeout)
	defer disarm()

	status, err := r.exchange(in, reqHdr, respHdr, out)
	if err != nil {
		c.markBroken()
		err = classifyIOError(ctx, err)
		c.log.Debug().Err(err).Str("service", r.service).Str("method", string(r.method)).Msg("exchange failed")
		return status, err
	}
	return status, nil
}

func (r *Request) exchange(in io.Reader, reqHdr, respHdr *headers.List, out io.Writer) (int, error) {
	c := r.conn
	startTime := time.Now()

	r.status = 0
	r.responseHeaders = nil
	r.httpRequestHeaders = nil
	r.httpResponseHeaders = nil
	r.serverClosing = false
	r.timing = Timing{}

	// Embedded HTTP headers, with their offsets for the Encapsulated header
	var encap bytes.Buffer
	var sections []Section
	if reqHdr != nil {
		sections = append(sections, Section{Name: SectionReqHdr, Offset: encap.Len()})
		reqHdr.AppendTo(&encap)
	}
	if r.method == MethodRespmod && respHdr != nil {
		sections = append(sections, Section{Name: SectionResHdr, Offset: encap.Len()})
		respHdr.AppendTo(&encap)
	}
	bodySection := SectionReqBody
	if r.method == MethodRespmod {
		bodySection = SectionResBody
	}
	if in == nil {
		bodySection = SectionNullBody
	}
	sections = append(sections, Section{Name: bodySection, Offset: encap.Len()})

	caps := r.caps
	icapHeaders := r.newICAPHeaders(r.method)
	if allow := allowValue(caps); allow != "" {
		icapHeaders.Add("Allow", allow)
	}
	usePreview := in != nil && caps.Preview >= 0
	if usePreview {
		icapHeaders.Add("Preview", strconv.Itoa(caps.Preview))
	}
	if !caps.Keepalive {
		icapHeaders.Add("Connection", "close")
	}
	icapHeaders.Add("Encapsulated", FormatEncapsulated(sections))

	if _, err := c.bw.Write(icapHeaders.Bytes()); err != nil {
		return 0, err
	}
	if _, err := c.bw.Write(encap.Bytes()); err != nil {
		return 0, err
	}

	var src *bufio.Reader
	if in != nil {
		src = bufio.NewReaderSize(in, 32*1024)
	}

	if usePreview {
		previewStart := time.Now()
		eof, err := sendPreview(src, c.bw, caps.Preview)
		if err != nil {
			return 0, err
		}
		if err := r.flushAndReadResponse(); err != nil {
			return r.status, err
		}
		r.timing.Preview = time.Since(previewStart)

		if r.status == 100 {
			if !eof {
				if err := sendBody(src, c.bw); err != nil {
					return r.status, err
				}
			}
			if err := r.flushAndReadResponse(); err != nil {
				return r.status, err
			}
		}
	} else {
		if src != nil {
			if err := sendBody(src, c.bw); err != nil {
				return 0, err
			}
		}
		if err := r.flushAndReadResponse(); err != nil {
			return r.status, err
		}
	}
	r.timing.TTFB = time.Since(startTime)

	if r.status == 100 {
		return r.status, NewProtocolError(fmt.Errorf("%w 100 after the complete body", ErrUnexpectedStatus))
	}

	if err := r.readEncapsulated(in, out); err != nil {
		return r.status, err
	}

	r.timing.Total = time.Since(startTime)
	c.log.Debug().
		Str("service", r.service).
		Str("method", string(r.method)).
		Int("status", r.status).
		Str("istag", r.istag).
		Dur("elapsed", r.timing.Total).
		Msg("exchange complete")
	return r.status, nil
}

// sendPreview sends up to size body bytes followed by the zero-length chunk
// that ends the preview. It reports whether the body ended inside the
// preview, in which case the terminator carries the ieof extension.
func sendPreview(src *bufio.Reader, w io.Writer, size int) (bool, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(src, buf)

	eof := false
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		eof = true
	case err != nil:
		return false, NewSourceError(err)
	}

	if !eof {
		if _, err := src.Peek(1); err == io.EOF {
			eof = true
		} else if err != nil {
			return false, NewSourceError(err)
		}
	}

	cw := chunked.NewWriter(w)
	if n > 0 {
		if _, err := cw.Write(buf[:n]); err != nil {
			return false, err
		}
	}
	if eof {
		return true, cw.CloseWithExtension(chunked.ExtIEOF)
	}
	return false, cw.Close()
}

// sendBody sends the remaining body bytes as chunks and terminates the body
func sendBody(src io.Reader, w io.Writer) error {
	cw := chunked.NewWriter(w)
	if _, err := io.Copy(cw, &sourceReader{r: src}); err != nil {
		return err
	}
	return cw.Close()
}

// flushAndReadResponse flushes pending request bytes and reads one ICAP
// response header block
func (r *Request) flushAndReadResponse() error {
	c := r.conn
	if err := c.bw.Flush(); err != nil {
		return err
	}

	h, _, err := headers.Read(c.br, c.opts.MaxHeaderBytes)
	if err != nil {
		return err
	}
	return r.recordResponse(h)
}

// readEncapsulated reads the embedded HTTP header blocks and the body the
// response's Encapsulated header announces
func (r *Request) readEncapsulated(in io.Reader, out io.Writer) error {
	c := r.conn

	value, ok := r.responseHeaders.Get("Encapsulated")
	if !ok {
		// Error responses and some 204s carry nothing
		return nil
	}
	sections, err := ParseEncapsulated(value)
	if err != nil {
		return NewProtocolError(err)
	}

	for i, s := range sections {
		if s.IsBody() {
			break
		}

		var block *headers.List
		if i+1 < len(sections) {
			length := sections[i+1].Offset - s.Offset
			if length > c.opts.MaxHeaderBytes {
				return NewProtocolError(fmt.Errorf("%s section of %d bytes exceeds limit", s.Name, length))
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(c.br, raw); err != nil {
				return err
			}
			if block, err = headers.Parse(raw); err != nil {
				return NewProtocolError(err)
			}
		} else {
			// No body entry after the headers: read up to the blank line
			if block, _, err = headers.Read(c.br, c.opts.MaxHeaderBytes); err != nil {
				return err
			}
		}

		switch s.Name {
		case SectionReqHdr:
			r.httpRequestHeaders = block
		case SectionResHdr:
			r.httpResponseHeaders = block
		}
	}

	last := sections[len(sections)-1]
	switch last.Name {
	case SectionReqBody, SectionResBody, SectionOptBody:
	default:
		return nil
	}

	dst := out
	if dst == nil {
		dst = io.Discard
	}
	cr := chunked.NewReader(c.br)
	if _, err := io.Copy(dst, cr); err != nil {
		return err
	}

	if r.status == 206 {
		if ext := cr.Extension(); strings.HasPrefix(ext, useOriginalBody) {
			return appendOriginalBody(in, dst, strings.TrimPrefix(ext, useOriginalBody))
		}
	}
	return nil
}

// appendOriginalBody copies the original body from offset onwards, as a
// 206 response with use-original-body asks
func appendOriginalBody(in io.Reader, dst io.Writer, offset string) error {
	off, err := strconv.ParseInt(strings.TrimSpace(offset), 10, 64)
	if err != nil || off < 0 {
		return NewProtocolError(fmt.Errorf("invalid use-original-body offset %q", offset))
	}
	seeker, ok := in.(io.Seeker)
	if !ok {
		return NewProtocolError(fmt.Errorf("206 response needs the original body but the source cannot seek"))
	}
	if _, err := seeker.Seek(off, io.SeekStart); err != nil {
		return NewSourceError(err)
	}
	if _, err := io.Copy(dst, &sourceReader{r: in}); err != nil {
		return err
	}
	return nil
}

func allowValue(caps Capabilities) string {
	switch {
	case caps.Allow204 && caps.Allow206:
		return "204, 206"
	case caps.Allow204:
		return "204"
	case caps.Allow206:
		return "206"
	default:
		return ""
	}
}

// sourceReader tags read failures of the body source so they are not
// mistaken for socket errors
type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, NewSourceError(err)
	}
	return n, err
}
