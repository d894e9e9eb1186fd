package transport

import "time"

// Timing represents timing information for the phases of a connection or
// an exchange
type Timing struct {
	DNSLookup    time.Duration // Time spent on DNS resolution
	ProxyConnect time.Duration // Time spent connecting to proxy (0 if no proxy)
	TCPConnect   time.Duration // Time spent on TCP connection establishment
	TLSHandshake time.Duration // Time spent on TLS handshake (0 for plain ICAP)
	Preview      time.Duration // Time from sending the preview to the server's verdict
	TTFB         time.Duration // Time from the end of the request to the first response byte
	Total        time.Duration // Total time from start to finish
}

// String returns a human-readable representation of timing information
func (t *Timing) String() string {
	return formatTiming(t)
}

func formatTiming(t *Timing) string {
	result := "Timing:\n"
	if t.DNSLookup > 0 {
		result += "  DNS Lookup: " + t.DNSLookup.String() + "\n"
	}
	if t.ProxyConnect > 0 {
		result += "  Proxy Connect: " + t.ProxyConnect.String() + "\n"
	}
	if t.TCPConnect > 0 {
		result += "  TCP Connect: " + t.TCPConnect.String() + "\n"
	}
	if t.TLSHandshake > 0 {
		result += "  TLS Handshake: " + t.TLSHandshake.String() + "\n"
	}
	if t.Preview > 0 {
		result += "  Preview: " + t.Preview.String() + "\n"
	}
	if t.TTFB > 0 {
		result += "  Time to First Byte: " + t.TTFB.String() + "\n"
	}
	result += "  Total: " + t.Total.String()
	return result
}
