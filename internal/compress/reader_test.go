package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const payload = "the quick brown fox jumps over the lazy dog"

func roundTrip(t *testing.T, encoding string, compressed []byte) {
	t.Helper()
	r := NewCompressReader(io.NopCloser(bytes.NewReader(compressed)), encoding)
	if r == nil {
		t.Fatalf("no reader for %q", encoding)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("%s: %v", encoding, err)
	}
	if string(got) != payload {
		t.Errorf("%s: got %q; want %q", encoding, got, payload)
	}
}

func TestGzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte(payload))
	w.Close()
	roundTrip(t, "gzip", buf.Bytes())
}

func TestDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	w.Write([]byte(payload))
	w.Close()
	roundTrip(t, "deflate", buf.Bytes())
}

func TestBrotli(t *testing.T) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	w.Write([]byte(payload))
	w.Close()
	roundTrip(t, "br", buf.Bytes())
}

func TestZstd(t *testing.T) {
	var buf bytes.Buffer
	w, _ := zstd.NewWriter(&buf)
	w.Write([]byte(payload))
	w.Close()
	roundTrip(t, "zstd", buf.Bytes())
}

func TestUnknownEncoding(t *testing.T) {
	if r := NewCompressReader(io.NopCloser(bytes.NewReader(nil)), "snappy"); r != nil {
		t.Errorf("got a reader for an unknown encoding")
	}
}

func TestGzipBadData(t *testing.T) {
	r := NewGzipReader(io.NopCloser(bytes.NewReader([]byte("not gzip"))))
	if _, err := io.ReadAll(r); err == nil {
		t.Error("expected an error for corrupt input")
	}
	// The error is sticky.
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Error("expected the sticky error on re-read")
	}
}
