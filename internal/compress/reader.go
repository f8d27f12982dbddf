package compress

import "io"

// NewCompressReader wraps body with a reader that strips the given
// Content-Encoding, or returns nil when the encoding is unknown.
func NewCompressReader(body io.ReadCloser, contentEncoding string) io.ReadCloser {
	switch contentEncoding {
	case "gzip":
		return NewGzipReader(body)
	case "deflate":
		return NewDeflateReader(body)
	case "br":
		return NewBrotliReader(body)
	case "zstd":
		return NewZstdReader(body)
	}
	return nil
}
