// Package compression decodes adapted HTTP bodies according to the
// Content-Encoding of the embedded HTTP response.
package compression

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/WhileEndless/go-icapclient/pkg/errors"
)

// CompressionType represents supported compression algorithms
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionGzip
	CompressionDeflate
	CompressionBrotli
	CompressionZstd
	CompressionUnknown
)

// DetectCompression detects compression type from a single Content-Encoding token
func DetectCompression(contentEncoding string) CompressionType {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return CompressionGzip
	case "deflate", "x-deflate":
		return CompressionDeflate
	case "br", "brotli":
		return CompressionBrotli
	case "zstd", "zstandard":
		return CompressionZstd
	case "identity", "":
		return CompressionNone
	default:
		return CompressionUnknown
	}
}

// String returns the Content-Encoding token for the type
func (ct CompressionType) String() string {
	switch ct {
	case CompressionGzip:
		return "gzip"
	case CompressionDeflate:
		return "deflate"
	case CompressionBrotli:
		return "br"
	case CompressionZstd:
		return "zstd"
	case CompressionNone:
		return "identity"
	default:
		return "unknown"
	}
}

// Decode undoes every coding listed in a Content-Encoding header value.
// Codings are applied in listed order, so they are removed in reverse.
func Decode(contentEncoding string, data []byte) ([]byte, error) {
	tokens := strings.Split(contentEncoding, ",")
	for i := len(tokens) - 1; i >= 0; i-- {
		ct := DetectCompression(tokens[i])
		if ct == CompressionUnknown {
			return nil, errors.NewError(errors.ErrorTypeCompressionError,
				"unsupported content encoding "+strings.TrimSpace(tokens[i]), "compression.Decode", nil)
		}

		var err error
		data, err = Decompress(data, ct)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Decompress decompresses data based on the compression type
func Decompress(data []byte, compressionType CompressionType) ([]byte, error) {
	if len(data) == 0 || compressionType == CompressionNone {
		return data, nil
	}

	reader, err := NewReader(bytes.NewReader(data), compressionType)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeCompressionError,
			"failed to decompress "+compressionType.String()+" data: "+err.Error(), "compression.Decompress", nil)
	}
	return decompressed, nil
}

// NewReader wraps r with a streaming decompressor for the given type
func NewReader(r io.Reader, compressionType CompressionType) (io.ReadCloser, error) {
	switch compressionType {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeCompressionError,
				"failed to create gzip reader: "+err.Error(), "compression.NewReader", nil)
		}
		return zr, nil
	case CompressionDeflate:
		return flate.NewReader(r), nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeCompressionError,
				"failed to create zstd reader: "+err.Error(), "compression.NewReader", nil)
		}
		return decoder.IOReadCloser(), nil
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, errors.NewError(errors.ErrorTypeCompressionError,
			"unsupported compression type", "compression.NewReader", nil)
	}
}
