package executor

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, deflate, br, zstd"

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody wraps body according to the response Content-Encoding. Closing
// the result closes body too.
func decodeBody(body io.ReadCloser, header http.Header) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{zr.Close, body.Close}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, body.Close}}, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}
