package vex

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/idna"
)

// Transport is the byte-level socket the connection engine drives.
// Reads are edge-triggered: after delivering one data event the
// transport stays quiet until ArmRead is called again, so the engine
// is never flooded faster than it dispatches.
type Transport interface {
	// Connect establishes the socket. It must be called before
	// Start.
	Connect(ctx context.Context) error

	// Start installs the event callbacks and begins the read pump.
	// onData fires with each chunk read after an ArmRead; onClosed
	// fires once when the peer or a read error closes the socket
	// (err is nil for a clean remote close).
	Start(onData func(p []byte), onClosed func(err error))

	// ArmRead allows one more read. Extra arms while one is
	// already pending coalesce.
	ArmRead()

	// Send writes p fully to the socket.
	Send(p []byte) error

	Close() error
}

const transportReadSize = 16 << 10

// tlsTransport dials TLS with ALPN h2 and pumps reads one chunk per
// arm.
type tlsTransport struct {
	addr        string
	tlsConfig   *tls.Config
	dialTimeout time.Duration

	conn  *tls.Conn
	armCh chan struct{}
	done  chan struct{}
}

func newTLSTransport(u *url.URL, cfg *tls.Config, dialTimeout time.Duration) (*tlsTransport, error) {
	if u.Scheme != "https" {
		return nil, fmt.Errorf("http2: unsupported scheme %q", u.Scheme)
	}
	host, err := idna.ToASCII(u.Hostname())
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if !strSliceContains(cfg.NextProtos, NextProtoTLS) {
		cfg.NextProtos = append([]string{NextProtoTLS}, cfg.NextProtos...)
	}
	return &tlsTransport{
		addr:        net.JoinHostPort(host, port),
		tlsConfig:   cfg,
		dialTimeout: dialTimeout,
		armCh:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

func (t *tlsTransport) Connect(ctx context.Context) error {
	d := &net.Dialer{Timeout: t.dialTimeout}
	tcp, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	conn := tls.Client(tcp, t.tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		tcp.Close()
		return &TransportError{Op: "connect", Err: err}
	}
	if p := conn.ConnectionState().NegotiatedProtocol; p != NextProtoTLS {
		conn.Close()
		return &TransportError{Op: "connect", Err: fmt.Errorf("unexpected ALPN protocol %q; want %q", p, NextProtoTLS)}
	}
	t.conn = conn
	return nil
}

func (t *tlsTransport) Start(onData func(p []byte), onClosed func(err error)) {
	go func() {
		buf := make([]byte, transportReadSize)
		for {
			select {
			case <-t.armCh:
			case <-t.done:
				return
			}
			n, err := t.conn.Read(buf)
			if n > 0 {
				p := make([]byte, n)
				copy(p, buf[:n])
				onData(p)
			}
			if err != nil {
				select {
				case <-t.done:
				default:
					onClosed(readCloseError(err))
				}
				return
			}
		}
	}()
}

func (t *tlsTransport) ArmRead() {
	select {
	case t.armCh <- struct{}{}:
	default:
	}
}

func (t *tlsTransport) Send(p []byte) error {
	if _, err := t.conn.Write(p); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (t *tlsTransport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
	}
	close(t.done)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// readCloseError maps a read failure to the closed-event error: nil
// for a clean remote close, a TransportError otherwise.
func readCloseError(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return &TransportError{Op: "read", Err: err}
}

func strSliceContains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
