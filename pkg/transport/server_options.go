package transport

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/WhileEndless/go-icapclient/pkg/chunked"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// ServerOptions sends an OPTIONS request for the service and stores what
// the server advertises: preview size, 204/206 support, persistence, ISTag,
// methods, Max-Connections and Options-TTL. The exchange must end in a 200.
func (r *Request) ServerOptions(ctx context.Context, timeout time.Duration) (int, error) {
	if r.conn == nil {
		return 0, NewConnectionError(ErrDetached)
	}
	c := r.conn
	if err := c.usable(); err != nil {
		return 0, err
	}

	disarm := c.arm(ctx, timeout)
	defer disarm()

	startTime := time.Now()
	log := c.log.With().Str("service", r.service).Str("method", string(MethodOptions)).Logger()

	reqHeaders := r.newICAPHeaders(MethodOptions)
	reqHeaders.Add("Encapsulated", SectionNullBody+"=0")

	if _, err := c.bw.Write(reqHeaders.Bytes()); err != nil {
		c.markBroken()
		return 0, classifyIOError(ctx, err)
	}
	if err := c.bw.Flush(); err != nil {
		c.markBroken()
		return 0, classifyIOError(ctx, err)
	}

	respHeaders, _, err := headers.Read(c.br, c.opts.MaxHeaderBytes)
	if err != nil {
		c.markBroken()
		return 0, classifyIOError(ctx, err)
	}
	r.timing.TTFB = time.Since(startTime)

	if err := r.recordResponse(respHeaders); err != nil {
		c.markBroken()
		return 0, err
	}

	// Some servers describe the service in an opt-body
	if encap, ok := respHeaders.Get("Encapsulated"); ok {
		sections, err := ParseEncapsulated(encap)
		if err != nil {
			c.markBroken()
			return r.status, NewProtocolError(err)
		}
		if last := sections[len(sections)-1]; last.Name == SectionOptBody {
			if _, err := io.Copy(io.Discard, chunked.NewReader(c.br)); err != nil {
				c.markBroken()
				return r.status, classifyIOError(ctx, err)
			}
		}
	}

	r.timing.Total = time.Since(startTime)
	log.Debug().Int("status", r.status).Dur("elapsed", r.timing.Total).Msg("OPTIONS response")

	if r.status != 200 {
		return r.status, NewProtocolError(fmt.Errorf("%w %d for OPTIONS", ErrUnexpectedStatus, r.status))
	}

	r.applyServerOptions(respHeaders)
	log.Debug().
		Int("preview", r.caps.Preview).
		Bool("allow204", r.caps.Allow204).
		Bool("allow206", r.caps.Allow206).
		Bool("keepalive", r.caps.Keepalive).
		Str("istag", r.istag).
		Msg("server options")
	return r.status, nil
}

// applyServerOptions reads the capability headers of an OPTIONS response
func (r *Request) applyServerOptions(h *headers.List) {
	caps := DefaultCapabilities()

	if v, ok := h.Get("Preview"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			caps.Preview = n
		}
	}

	for _, allow := range h.Values("Allow") {
		for _, token := range strings.Split(allow, ",") {
			switch strings.TrimSpace(token) {
			case "204":
				caps.Allow204 = true
			case "206":
				caps.Allow206 = true
			}
		}
	}

	caps.Keepalive = !r.serverClosing
	r.caps = caps

	r.methods = nil
	for _, methods := range h.Values("Methods") {
		for _, m := range strings.Split(methods, ",") {
			if m = strings.TrimSpace(m); m != "" {
				r.methods = append(r.methods, m)
			}
		}
	}

	r.maxConnections = 0
	if v, ok := h.Get("Max-Connections"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			r.maxConnections = n
		}
	}

	r.optionsTTL = 0
	if v, ok := h.Get("Options-TTL"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			r.optionsTTL = time.Duration(n) * time.Second
		}
	}
}
