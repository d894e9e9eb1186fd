// Package version provides version information for go-icapclient
package version

// Version is the current version of the go-icapclient library
const Version = "1.0.0"

// GetVersion returns the current version of the library
func GetVersion() string {
	return Version
}

// UserAgent returns the User-Agent value sent in ICAP requests
func UserAgent() string {
	return "go-icapclient/" + Version
}
