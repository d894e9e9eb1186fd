package icap

import (
	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

// BuildReqmodHeaders returns the HTTP request headers sent along with an
// adaptation request for url
func BuildReqmodHeaders(url string) *headers.List {
	h := headers.NewListWithStartLine("POST " + url + " HTTP/1.1")
	h.Add("Host", "localhost")
	h.Add("Transfer-Encoding", "chunked")
	return h
}

// BuildRespmodHeaders returns the synthetic HTTP response headers that let
// the server adapt a body supplied directly by the client
func BuildRespmodHeaders() *headers.List {
	h := headers.NewListWithStartLine("HTTP/1.1 200 OK")
	h.Add("Transfer-Encoding", "chunked")
	return h
}
