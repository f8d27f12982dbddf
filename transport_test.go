package vex

import (
	"net/url"
	"testing"

	"github.com/vexhttp/vex/internal/tests"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestNewTLSTransportDefaults(t *testing.T) {
	tr, err := newTLSTransport(mustParse(t, "https://example.com/x"), nil, 0)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "example.com:443", tr.addr)
	tests.AssertEqual(t, "example.com", tr.tlsConfig.ServerName)
	if !strSliceContains(tr.tlsConfig.NextProtos, NextProtoTLS) {
		t.Errorf("ALPN %v does not offer %q", tr.tlsConfig.NextProtos, NextProtoTLS)
	}
}

func TestNewTLSTransportExplicitPort(t *testing.T) {
	tr, err := newTLSTransport(mustParse(t, "https://example.com:8443"), nil, 0)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "example.com:8443", tr.addr)
}

func TestNewTLSTransportIDN(t *testing.T) {
	tr, err := newTLSTransport(mustParse(t, "https://bücher.example"), nil, 0)
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, "xn--bcher-kva.example:443", tr.addr)
}

func TestNewTLSTransportRejectsHTTP(t *testing.T) {
	_, err := newTLSTransport(mustParse(t, "http://example.com"), nil, 0)
	tests.AssertErrorContains(t, err, "unsupported scheme")
}
