package vex

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2/hpack"

	"github.com/vexhttp/vex/internal/charsets"
	"github.com/vexhttp/vex/internal/compress"
)

// Ref identifies one submitted request across the asynchronous
// callback surface.
type Ref uint64

// Event is a message from the connection to its user.
type Event interface {
	isEvent()
}

// PongEvent reports that the peer acknowledged a Ping.
type PongEvent struct{}

// PingEvent reports an unsolicited PING from the peer. The engine
// echoes it back as an ack right after delivering this event.
type PingEvent struct{}

// PushPromiseEvent reports a server push. Header carries the promised
// request's header list; the pushed response arrives later as a
// ResponseEvent with Ref 0 and the promised stream id.
type PushPromiseEvent struct {
	PromisedStreamID uint32
	Header           http.Header
}

// ClosedEvent reports connection closure. Err is nil for an orderly
// close.
type ClosedEvent struct {
	Err error
}

// ResponseEvent delivers the result of one request: either Response
// or Err is set.
type ResponseEvent struct {
	Ref      Ref
	StreamID uint32
	Response *Response
	Err      error
}

func (PongEvent) isEvent()        {}
func (PingEvent) isEvent()        {}
func (PushPromiseEvent) isEvent() {}
func (ClosedEvent) isEvent()      {}
func (ResponseEvent) isEvent()    {}

// Request is one HTTP/2 request. Method and Path are required;
// Scheme and Authority default from the dialed URL.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Header    http.Header
	Body      []byte
}

// NewRequest returns a request with an empty header map.
func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path, Header: make(http.Header)}
}

// SetHeader sets a header field, replacing existing values.
func (r *Request) SetHeader(name, value string) *Request {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(name, value)
	return r
}

// SetBody sets the request body.
func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

// SetQueryParamsFromStruct encodes v's fields (per its `url` struct
// tags) and appends them to the request path as a query string.
func (r *Request) SetQueryParamsFromStruct(v interface{}) error {
	values, err := query.Values(v)
	if err != nil {
		return err
	}
	encoded := values.Encode()
	if encoded == "" {
		return nil
	}
	if strings.Contains(r.Path, "?") {
		r.Path += "&" + encoded
	} else {
		r.Path += "?" + encoded
	}
	return nil
}

// headerFields renders the request as an HPACK header list:
// pseudo-header fields first, then regular fields lowercased, as
// RFC 7540 §8.1.2 requires.
func (r *Request) headerFields() ([]hpack.HeaderField, error) {
	if r.Method == "" || r.Path == "" || r.Scheme == "" || r.Authority == "" {
		return nil, fmt.Errorf("http2: incomplete request: method=%q path=%q scheme=%q authority=%q",
			r.Method, r.Path, r.Scheme, r.Authority)
	}
	fields := []hpack.HeaderField{
		{Name: ":method", Value: r.Method},
		{Name: ":scheme", Value: r.Scheme},
		{Name: ":authority", Value: r.Authority},
		{Name: ":path", Value: r.Path},
	}
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !httpguts.ValidHeaderFieldName(lower) {
			return nil, fmt.Errorf("http2: invalid header field name %q", name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("http2: invalid header field value for %q", name)
			}
			fields = append(fields, hpack.HeaderField{Name: lower, Value: v})
		}
	}
	return fields, nil
}

// Response is one assembled HTTP/2 response.
type Response struct {
	Status int
	Header http.Header

	body    []byte // raw, as received
	decoded []byte // after content-encoding removal
}

// Body returns the response body with any Content-Encoding
// (gzip, deflate, br, zstd) transparently removed.
func (r *Response) Body() []byte {
	return r.decoded
}

// RawBody returns the body exactly as it arrived on the wire.
func (r *Response) RawBody() []byte {
	return r.body
}

// TextBody decodes the body to UTF-8 using the charset sniffed from
// the content (a byte order mark or an HTML meta charset declaration).
// The Content-Type header's charset parameter is not consulted; when
// nothing is detected the body is returned unchanged.
func (r *Response) TextBody() string {
	enc, _ := charsets.FindEncoding(r.decoded)
	if enc == nil {
		return string(r.decoded)
	}
	out, err := enc.NewDecoder().Bytes(r.decoded)
	if err != nil {
		return string(r.decoded)
	}
	return string(out)
}

// finalize runs once on END_STREAM, before delivery.
func (r *Response) finalize() {
	r.decoded = r.body
	ce := r.Header.Get("Content-Encoding")
	if ce == "" || len(r.body) == 0 {
		return
	}
	cr := compress.NewCompressReader(io.NopCloser(bytes.NewReader(r.body)), ce)
	if cr == nil {
		return // unknown encoding, leave as-is
	}
	defer cr.Close()
	decoded, err := io.ReadAll(cr)
	if err != nil {
		return
	}
	r.decoded = decoded
}

// Client is the user surface over one connection: it builds requests,
// feeds the admission queue, and exposes the event stream.
type Client struct {
	conn   *Conn
	queue  *RequestQueue
	events chan Event

	scheme    string
	authority string

	refs atomic.Uint64
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

type clientOptions struct {
	tlsConfig   *tls.Config
	settings    Settings
	logger      Logger
	dialTimeout time.Duration
	transport   Transport
	eventBuffer int
}

// WithTLSConfig sets the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) { o.tlsConfig = cfg }
}

// WithSettings sets the local HTTP/2 settings announced at open.
func WithSettings(s Settings) ClientOption {
	return func(o *clientOptions) { o.settings = s }
}

// WithLogger sets the logger. The default logs to stderr.
func WithLogger(l Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithDialTimeout bounds the TCP+TLS dial.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// WithTransport replaces the TLS transport; used by tests.
func WithTransport(t Transport) ClientOption {
	return func(o *clientOptions) { o.transport = t }
}

// Dial opens an HTTP/2 connection to an https origin and returns a
// client over it.
func Dial(ctx context.Context, rawurl string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	o := clientOptions{eventBuffer: 128}
	for _, opt := range opts {
		opt(&o)
	}

	cl := &Client{
		queue:     NewRequestQueue(),
		events:    make(chan Event, o.eventBuffer),
		scheme:    u.Scheme,
		authority: u.Host,
	}
	conn, err := Open(ctx, ConnConfig{
		URL:         u,
		TLSConfig:   o.tlsConfig,
		Settings:    o.settings,
		Queue:       cl.queue,
		Events:      cl.events,
		Transport:   o.transport,
		Logger:      o.logger,
		DialTimeout: o.dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	cl.conn = conn
	return cl, nil
}

// Events is the connection's callback surface. The consumer must
// drain it; the engine blocks once the buffer fills.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Do enqueues a request and returns the Ref its ResponseEvent will
// carry. The request is admitted to the wire when the connection has
// a free stream slot.
func (c *Client) Do(req *Request) (Ref, error) {
	if req.Scheme == "" {
		req.Scheme = c.scheme
	}
	if req.Authority == "" {
		req.Authority = c.authority
	}
	if _, err := req.headerFields(); err != nil {
		return 0, err
	}
	ref := Ref(c.refs.Add(1))
	c.queue.push(&pendingRequest{req: req, ref: ref, body: req.Body})
	return ref, nil
}

// Get enqueues a GET request for path.
func (c *Client) Get(path string) (Ref, error) {
	return c.Do(NewRequest("GET", path))
}

// Head enqueues a HEAD request for path.
func (c *Client) Head(path string) (Ref, error) {
	return c.Do(NewRequest("HEAD", path))
}

// Post enqueues a POST request carrying body.
func (c *Client) Post(path string, body []byte) (Ref, error) {
	return c.Do(NewRequest("POST", path).SetBody(body))
}

// Ping sends a PING to the peer; the ack surfaces as a PongEvent.
func (c *Client) Ping() {
	c.conn.Ping()
}

// Close performs an orderly shutdown: GOAWAY, closure notification,
// teardown.
func (c *Client) Close() {
	c.conn.Close()
}
