package compress

import (
	"io"
	"io/fs"

	"github.com/klauspost/compress/flate"
)

// DeflateReader lazily wraps a response body with a flate reader.
type DeflateReader struct {
	body io.ReadCloser
	fr   io.ReadCloser
	ferr error // sticky error
}

func NewDeflateReader(body io.ReadCloser) *DeflateReader {
	return &DeflateReader{body: body}
}

func (df *DeflateReader) Read(p []byte) (n int, err error) {
	if df.ferr != nil {
		return 0, df.ferr
	}
	if df.fr == nil {
		df.fr = flate.NewReader(df.body)
	}
	return df.fr.Read(p)
}

func (df *DeflateReader) Close() error {
	if df.fr != nil {
		df.fr.Close()
	}
	if err := df.body.Close(); err != nil {
		return err
	}
	df.ferr = fs.ErrClosed
	return nil
}
