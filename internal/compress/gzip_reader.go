package compress

import (
	"io"
	"io/fs"

	"github.com/klauspost/compress/gzip"
)

// GzipReader wraps a response body so it can lazily
// call gzip.NewReader on the first call to Read.
type GzipReader struct {
	body io.ReadCloser
	zr   *gzip.Reader
	zerr error // sticky error
}

func NewGzipReader(body io.ReadCloser) *GzipReader {
	return &GzipReader{body: body}
}

func (gz *GzipReader) Read(p []byte) (n int, err error) {
	if gz.zerr != nil {
		return 0, gz.zerr
	}
	if gz.zr == nil {
		gz.zr, err = gzip.NewReader(gz.body)
		if err != nil {
			gz.zerr = err
			return 0, err
		}
	}
	return gz.zr.Read(p)
}

func (gz *GzipReader) Close() error {
	if err := gz.body.Close(); err != nil {
		return err
	}
	gz.zerr = fs.ErrClosed
	return nil
}
