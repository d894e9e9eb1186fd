package icap

import (
	"slices"
	"strings"

	"github.com/WhileEndless/go-icapclient/pkg/compression"
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// HTTPRequestHeaders is the HTTP request embedded in an ICAP response
type HTTPRequestHeaders struct {
	Line   string // request line, empty when the server sent none
	Fields []headers.Entry
}

// Get returns the first field with the given name, case-insensitively
func (h HTTPRequestHeaders) Get(name string) (string, bool) {
	return headers.Lookup(h.Fields, name)
}

// HTTPResponseHeaders is the HTTP response embedded in an ICAP response
type HTTPResponseHeaders struct {
	Line   string // status line, empty when the server sent none
	Fields []headers.Entry
}

// Get returns the first field with the given name, case-insensitively
func (h HTTPResponseHeaders) Get(name string) (string, bool) {
	return headers.Lookup(h.Fields, name)
}

// Response is the parsed answer to an adaptation request. It does not
// change once built and stays valid after the session moves on to other
// requests.
type Response struct {
	status       int
	reason       string
	icapHeaders  []headers.Entry
	httpRequest  *HTTPRequestHeaders
	httpResponse *HTTPResponseHeaders
	content      *Content
}

// Status returns the ICAP status code
func (r *Response) Status() int {
	return r.status
}

// Reason returns the reason phrase as sent by the server
func (r *Response) Reason() string {
	return r.reason
}

// ICAPHeaders returns the ICAP header fields in wire order
func (r *Response) ICAPHeaders() []headers.Entry {
	return slices.Clone(r.icapHeaders)
}

// ICAPHeader returns the first ICAP header with the given name
func (r *Response) ICAPHeader(name string) (string, bool) {
	return headers.Lookup(r.icapHeaders, name)
}

// HTTPRequest returns the embedded HTTP request, if the server sent one
func (r *Response) HTTPRequest() (HTTPRequestHeaders, bool) {
	if r.httpRequest == nil {
		return HTTPRequestHeaders{}, false
	}
	return HTTPRequestHeaders{Line: r.httpRequest.Line, Fields: slices.Clone(r.httpRequest.Fields)}, true
}

// HTTPRequestLine returns the embedded HTTP request line, empty when absent
func (r *Response) HTTPRequestLine() string {
	if r.httpRequest == nil {
		return ""
	}
	return r.httpRequest.Line
}

// HTTPRequestHeader returns the first embedded HTTP request header with the
// given name
func (r *Response) HTTPRequestHeader(name string) (string, bool) {
	if r.httpRequest == nil {
		return "", false
	}
	return r.httpRequest.Get(name)
}

// HTTPResponse returns the embedded HTTP response, if the server sent one
func (r *Response) HTTPResponse() (HTTPResponseHeaders, bool) {
	if r.httpResponse == nil {
		return HTTPResponseHeaders{}, false
	}
	return HTTPResponseHeaders{Line: r.httpResponse.Line, Fields: slices.Clone(r.httpResponse.Fields)}, true
}

// HTTPResponseLine returns the embedded HTTP status line, empty when absent
func (r *Response) HTTPResponseLine() string {
	if r.httpResponse == nil {
		return ""
	}
	return r.httpResponse.Line
}

// HTTPResponseHeader returns the first embedded HTTP response header with
// the given name
func (r *Response) HTTPResponseHeader(name string) (string, bool) {
	if r.httpResponse == nil {
		return "", false
	}
	return r.httpResponse.Get(name)
}

// Content returns the adapted body, nil when the request discarded it
func (r *Response) Content() *Content {
	return r.content
}

// Body returns a copy of the adapted body
func (r *Response) Body() []byte {
	return r.content.Bytes()
}

// DecodedContent returns the adapted body with the embedded HTTP response's
// Content-Encoding removed
func (r *Response) DecodedContent() ([]byte, error) {
	body := r.content.Bytes()
	encoding, ok := r.HTTPResponseHeader("Content-Encoding")
	if !ok || len(body) == 0 {
		return body, nil
	}
	return compression.Decode(encoding, body)
}

// Unmodified reports a "no modification needed" verdict
func (r *Response) Unmodified() bool {
	return r.status == 204
}

// ISTag returns the service tag of the response, without quotes
func (r *Response) ISTag() string {
	tag, _ := r.ICAPHeader("ISTag")
	return strings.Trim(strings.TrimSpace(tag), `"`)
}

// Release drops the response's hold on the content buffer. The response
// must not be read afterwards.
func (r *Response) Release() {
	r.content.Release()
	r.content = nil
}
