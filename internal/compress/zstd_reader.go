package compress

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdReader lazily wraps a response body with a zstd decoder.
type ZstdReader struct {
	body io.ReadCloser
	zr   *zstd.Decoder
	zerr error // sticky error
}

func NewZstdReader(body io.ReadCloser) *ZstdReader {
	return &ZstdReader{body: body}
}

func (z *ZstdReader) Read(p []byte) (n int, err error) {
	if z.zerr != nil {
		return 0, z.zerr
	}
	if z.zr == nil {
		z.zr, err = zstd.NewReader(z.body)
		if err != nil {
			z.zerr = err
			return 0, err
		}
	}
	return z.zr.Read(p)
}

func (z *ZstdReader) Close() error {
	if z.zr != nil {
		z.zr.Close()
	}
	return z.body.Close()
}
