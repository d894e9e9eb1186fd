package icap

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/WhileEndless/go-icapclient/pkg/headers"
)

func TestParseResponse_Unmodified204Shim(t *testing.T) {
	for _, list := range []*headers.List{nil, headers.NewList()} {
		resp, err := ParseResponse(ResponseState{Status: 204, ICAPHeaders: list})
		if err != nil {
			t.Fatalf("ParseResponse failed: %v", err)
		}
		if resp.Status() != 204 || resp.Reason() != "Unmodified" {
			t.Errorf("got %d %q, want 204 Unmodified", resp.Status(), resp.Reason())
		}
		if len(resp.ICAPHeaders()) != 0 {
			t.Errorf("ICAPHeaders() = %v, want none", resp.ICAPHeaders())
		}
		if !resp.Unmodified() {
			t.Error("Unmodified() = false")
		}
	}
}

func TestParseResponse_EmptyHeadersWithoutShim(t *testing.T) {
	resp, err := ParseResponse(ResponseState{Status: 200, ICAPHeaders: headers.NewList()})
	if resp != nil {
		t.Error("no Response expected on failure")
	}
	if !IsKind(err, KindProtocol) {
		t.Errorf("error = %v, want protocol error", err)
	}
}

func TestParseResponse_Basic(t *testing.T) {
	list := headers.NewList()
	list.SetStartLine("ICAP/1.0 200 OK")
	list.Add("Encapsulated", "null-body=0")

	resp, err := ParseResponse(ResponseState{Status: 200, ICAPHeaders: list})
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Status() != 200 {
		t.Errorf("Status() = %d, want 200", resp.Status())
	}
	if resp.Reason() != "OK" {
		t.Errorf("Reason() = %q, want OK", resp.Reason())
	}
	if v, ok := resp.ICAPHeader("Encapsulated"); !ok || v != "null-body=0" {
		t.Errorf("ICAPHeader(Encapsulated) = %q, %v", v, ok)
	}
	if v, ok := resp.ICAPHeader("Missing"); ok || v != "" {
		t.Errorf("ICAPHeader(Missing) = %q, %v, want absent", v, ok)
	}
	if _, ok := resp.HTTPRequest(); ok {
		t.Error("HTTPRequest() should be absent")
	}
	if _, ok := resp.HTTPResponse(); ok {
		t.Error("HTTPResponse() should be absent")
	}
	if v, ok := resp.HTTPResponseHeader("Content-Type"); ok || v != "" {
		t.Errorf("HTTPResponseHeader on absent block = %q, %v", v, ok)
	}
	if resp.Content() != nil {
		t.Error("Content() should be nil when none was attached")
	}
}

func TestParseResponse_StatusLines(t *testing.T) {
	tests := []struct {
		line       string
		wantStatus int
		wantReason string
	}{
		{"ICAP/1.0 200 OK", 200, "OK"},
		{"ICAP/1.0 204 No Content", 204, "No Content"},
		{"ICAP/1.0 403  Forbidden by  policy", 403, "Forbidden by  policy"},
		{"ICAP/1.0 200", 200, ""},
		{"ICAP/1.0 200 ", 200, ""},
		{"ICAP/1.0 200OK", 200, "OK"},
		{"ICAP/1.1\t500\tServer error", 500, "Server error"},
		{"ICAP/1.0 100 Continue", 100, "Continue"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			resp, err := ParseResponse(ResponseState{ICAPHeaders: headers.NewListWithStartLine(tt.line)})
			if err != nil {
				t.Fatalf("ParseResponse(%q) failed: %v", tt.line, err)
			}
			if resp.Status() != tt.wantStatus {
				t.Errorf("Status() = %d, want %d", resp.Status(), tt.wantStatus)
			}
			if resp.Reason() != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", resp.Reason(), tt.wantReason)
			}
		})
	}
}

func TestParseResponse_MalformedStatusLine(t *testing.T) {
	lines := []string{
		"HTTP/1.1 200 OK",
		"ICAP/1.0 OK",
		"ICAP/x.0 200 OK",
		"ICAP/1 200 OK",
		"icap/1.0 200 OK",
		" ICAP/1.0 200 OK",
		"",
	}

	for _, line := range lines {
		resp, err := ParseResponse(ResponseState{Status: 200, ICAPHeaders: headers.NewListWithStartLine(line)})
		if resp != nil {
			t.Errorf("ParseResponse(%q) returned a Response", line)
		}
		if !IsKind(err, KindProtocol) {
			t.Errorf("ParseResponse(%q) error = %v, want protocol error", line, err)
			continue
		}
		if e := err.(*Error); e.Line != line {
			t.Errorf("Line = %q, want %q", e.Line, line)
		}
	}
}

func TestParseResponse_NoStartLine(t *testing.T) {
	list := headers.NewList()
	list.Add("ISTag", "x")

	_, err := ParseResponse(ResponseState{Status: 200, ICAPHeaders: list})
	if !IsKind(err, KindResponseConstruction) {
		t.Errorf("error = %v, want response construction failure", err)
	}
}

func TestParseResponse_FirstMatchWins(t *testing.T) {
	list := mustParse("ICAP/1.0 200 OK\r\nX-Infection-Found: Type=0; Threat=EICAR\r\nx-infection-found: Type=0; Threat=Other\r\n\r\n")

	resp, err := ParseResponse(ResponseState{ICAPHeaders: list})
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if v, _ := resp.ICAPHeader("X-INFECTION-FOUND"); v != "Type=0; Threat=EICAR" {
		t.Errorf("ICAPHeader() = %q, want the first value", v)
	}
	if n := len(resp.ICAPHeaders()); n != 2 {
		t.Errorf("len(ICAPHeaders()) = %d, want 2", n)
	}
}

func TestParseResponse_EmbeddedHTTP(t *testing.T) {
	state := ResponseState{
		Status:              200,
		ICAPHeaders:         mustParse("ICAP/1.0 200 OK\r\nEncapsulated: req-hdr=0, res-hdr=40, res-body=90\r\n\r\n"),
		HTTPRequestHeaders:  mustParse("GET /index.html HTTP/1.1\r\nHost: www.example.com\r\n\r\n"),
		HTTPResponseHeaders: mustParse("HTTP/1.1 403 Forbidden\r\nContent-Type: text/html\r\nContent-Length: 12\r\n\r\n"),
	}

	resp, err := ParseResponse(state)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}

	if resp.HTTPRequestLine() != "GET /index.html HTTP/1.1" {
		t.Errorf("HTTPRequestLine() = %q", resp.HTTPRequestLine())
	}
	if v, ok := resp.HTTPRequestHeader("host"); !ok || v != "www.example.com" {
		t.Errorf("HTTPRequestHeader(host) = %q, %v", v, ok)
	}
	if resp.HTTPResponseLine() != "HTTP/1.1 403 Forbidden" {
		t.Errorf("HTTPResponseLine() = %q", resp.HTTPResponseLine())
	}
	httpResp, ok := resp.HTTPResponse()
	if !ok {
		t.Fatal("HTTPResponse() absent")
	}
	if len(httpResp.Fields) != 2 {
		t.Errorf("len(Fields) = %d, want 2", len(httpResp.Fields))
	}
	if v, _ := httpResp.Get("CONTENT-LENGTH"); v != "12" {
		t.Errorf("Get(CONTENT-LENGTH) = %q, want 12", v)
	}

	// Returned records are copies
	httpResp.Fields[0].Value = "changed"
	if v, _ := resp.HTTPResponseHeader("Content-Type"); v != "text/html" {
		t.Errorf("Response changed through a returned record: %q", v)
	}
	state.HTTPResponseHeaders.Set("Content-Type", "changed")
	if v, _ := resp.HTTPResponseHeader("Content-Type"); v != "text/html" {
		t.Errorf("Response changed through the source list: %q", v)
	}
}

func TestParseResponse_SharesContent(t *testing.T) {
	content := newContent()
	content.Write([]byte("body"))

	resp, err := ParseResponse(ResponseState{ICAPHeaders: headers.NewListWithStartLine("ICAP/1.0 200 OK"), Content: content})
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Content() != content {
		t.Error("Content() should be the shared buffer")
	}
	if got := content.refs.Load(); got != 2 {
		t.Errorf("refs = %d, want 2", got)
	}

	content.Release()
	if string(resp.Body()) != "body" {
		t.Errorf("Body() after the session released = %q, want body", resp.Body())
	}
	resp.Release()
	if content.Len() != 0 {
		t.Error("buffer should be returned once both holders released it")
	}
}

func TestResponse_DecodedContent(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	zw.Write([]byte("clean page"))
	zw.Close()

	content := newContent()
	content.Write(compressed.Bytes())
	defer content.Release()

	resp, err := ParseResponse(ResponseState{
		ICAPHeaders:         headers.NewListWithStartLine("ICAP/1.0 200 OK"),
		HTTPResponseHeaders: mustParse("HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\n\r\n"),
		Content:             content,
	})
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	defer resp.Release()

	decoded, err := resp.DecodedContent()
	if err != nil {
		t.Fatalf("DecodedContent failed: %v", err)
	}
	if string(decoded) != "clean page" {
		t.Errorf("DecodedContent() = %q, want %q", decoded, "clean page")
	}
	if !bytes.Equal(resp.Body(), compressed.Bytes()) {
		t.Error("Body() should stay encoded")
	}
}

func TestResponse_DecodedContentIdentity(t *testing.T) {
	content := newContent()
	content.Write([]byte("plain"))
	defer content.Release()

	resp, err := ParseResponse(ResponseState{ICAPHeaders: headers.NewListWithStartLine("ICAP/1.0 200 OK"), Content: content})
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	decoded, err := resp.DecodedContent()
	if err != nil || string(decoded) != "plain" {
		t.Errorf("DecodedContent() = %q, %v, want plain", decoded, err)
	}
}
