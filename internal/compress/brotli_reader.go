package compress

import (
	"io"

	"github.com/andybalholm/brotli"
)

// BrotliReader lazily wraps a response body with a brotli reader.
type BrotliReader struct {
	body io.ReadCloser
	br   io.Reader
	berr error // sticky error
}

func NewBrotliReader(body io.ReadCloser) *BrotliReader {
	return &BrotliReader{body: body}
}

func (br *BrotliReader) Read(p []byte) (n int, err error) {
	if br.berr != nil {
		return 0, br.berr
	}
	if br.br == nil {
		br.br = brotli.NewReader(br.body)
	}
	return br.br.Read(p)
}

func (br *BrotliReader) Close() error {
	return br.body.Close()
}
