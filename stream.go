package vex

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2/hpack"
)

// streamState is the HTTP/2 stream state (RFC 7540 §5.1).
type streamState int

const (
	stateIdle streamState = iota
	stateReservedLocal
	stateReservedRemote
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

var stateName = [...]string{
	stateIdle:             "Idle",
	stateReservedLocal:    "ReservedLocal",
	stateReservedRemote:   "ReservedRemote",
	stateOpen:             "Open",
	stateHalfClosedLocal:  "HalfClosedLocal",
	stateHalfClosedRemote: "HalfClosedRemote",
	stateClosed:           "Closed",
}

func (st streamState) String() string {
	return stateName[st]
}

// stream is the record for one logical request/response exchange. All
// fields are owned by the connection engine goroutine; the engine
// dispatches inbound frames to the addressed stream in wire order.
type stream struct {
	id   uint32
	conn *Conn
	ref  Ref

	state      streamState
	sendWindow int32
	recvWindow int32

	// Header block reassembly across HEADERS/CONTINUATION.
	headersAccum         []byte
	awaitingContinuation bool
	endStreamPending     bool // END_STREAM seen on HEADERS still awaiting END_HEADERS
	pushPromise          bool // accumulating a PUSH_PROMISE block

	resp *Response
}

func newStream(c *Conn, id uint32, ref Ref) *stream {
	return &stream{
		id:         id,
		conn:       c,
		ref:        ref,
		state:      stateIdle,
		sendWindow: int32(c.fc.settings.InitialWindowSize),
		recvWindow: int32(c.local.InitialWindowSize),
		resp:       &Response{Header: make(http.Header)},
	}
}

// sendHeadersDone transitions the stream after our HEADERS frame (and
// any CONTINUATIONs) went out.
func (s *stream) sendHeadersDone(endStream bool) {
	s.state = stateOpen
	if endStream {
		s.state = stateHalfClosedLocal
	}
}

// sendEndStream transitions after a DATA frame carrying END_STREAM.
func (s *stream) sendEndStream() {
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedLocal
	case stateHalfClosedRemote:
		s.close()
	}
}

// recvHeaders accepts a HEADERS frame addressed to this stream and
// starts (or completes) header block assembly.
func (s *stream) recvHeaders(f *HeadersFrame) error {
	switch s.state {
	case stateClosed:
		s.conn.log.Warnf("dropping HEADERS for closed stream %d", s.id)
		return nil
	case stateReservedRemote:
		// The promised response is arriving.
		s.state = stateHalfClosedLocal
	}
	s.headersAccum = append(s.headersAccum, f.HeaderBlockFragment()...)
	if f.StreamEnded() {
		s.endStreamPending = true
	}
	if !f.HeadersEnded() {
		s.awaitingContinuation = true
		return nil
	}
	return s.finishHeaders()
}

// recvContinuation appends one CONTINUATION fragment. The engine has
// already verified the continuation rule before dispatching here.
func (s *stream) recvContinuation(f *ContinuationFrame) error {
	if !s.awaitingContinuation {
		return ConnectionError(ErrCodeProtocol)
	}
	s.headersAccum = append(s.headersAccum, f.HeaderBlockFragment()...)
	if !f.HeadersEnded() {
		return nil
	}
	s.awaitingContinuation = false
	if s.pushPromise {
		return s.finishPromiseHeaders()
	}
	return s.finishHeaders()
}

// finishHeaders hands the reassembled block to the HPACK decoder and
// populates the response.
func (s *stream) finishHeaders() error {
	s.awaitingContinuation = false
	block := s.headersAccum
	s.headersAccum = nil
	fields, err := s.conn.hpack.decode(block)
	if err != nil {
		return err
	}
	if err := s.applyHeaderFields(fields); err != nil {
		return err
	}
	if s.endStreamPending {
		s.endStreamPending = false
		s.recvEndStream()
	}
	return nil
}

func (s *stream) applyHeaderFields(fields []hpack.HeaderField) error {
	for _, f := range fields {
		if strings.HasPrefix(f.Name, ":") {
			if f.Name != ":status" {
				return streamError(s.id, ErrCodeProtocol)
			}
			code, err := strconv.Atoi(f.Value)
			if err != nil {
				return streamError(s.id, ErrCodeProtocol)
			}
			s.resp.Status = code
			continue
		}
		if !httpguts.ValidHeaderFieldName(f.Name) || !httpguts.ValidHeaderFieldValue(f.Value) {
			return streamError(s.id, ErrCodeProtocol)
		}
		s.resp.Header.Add(f.Name, f.Value)
	}
	return nil
}

// recvPushPromise starts header assembly for the request headers a
// PUSH_PROMISE carries. The record is registered under the promised
// (even) stream id; CONTINUATIONs for the block arrive on the
// associated stream and are routed here by the engine.
func (s *stream) recvPushPromise(f *PushPromiseFrame) error {
	s.state = stateReservedRemote
	s.pushPromise = true
	s.headersAccum = append(s.headersAccum, f.HeaderBlockFragment()...)
	if !f.HeadersEnded() {
		s.awaitingContinuation = true
		return nil
	}
	return s.finishPromiseHeaders()
}

func (s *stream) finishPromiseHeaders() error {
	s.awaitingContinuation = false
	s.pushPromise = false
	block := s.headersAccum
	s.headersAccum = nil
	fields, err := s.conn.hpack.decode(block)
	if err != nil {
		return err
	}
	hdr := make(http.Header)
	for _, f := range fields {
		hdr.Add(f.Name, f.Value)
	}
	s.conn.deliverEvent(PushPromiseEvent{PromisedStreamID: s.id, Header: hdr})
	return nil
}

// recvData appends a DATA payload to the response body and debits the
// receive windows. The engine reflows both windows right after.
func (s *stream) recvData(f *DataFrame) {
	if s.state == stateClosed {
		s.conn.log.Warnf("dropping DATA for closed stream %d", s.id)
		return
	}
	data := f.Data()
	s.recvWindow -= int32(len(data))
	s.resp.body = append(s.resp.body, data...)
	if f.StreamEnded() {
		s.recvEndStream()
	}
}

// recvEndStream applies the peer's END_STREAM flag.
func (s *stream) recvEndStream() {
	switch s.state {
	case stateOpen:
		s.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		s.finish()
	}
}

// recvWindowUpdate credits the stream send window. Overflow past
// 2^31-1 is a stream-scoped FLOW_CONTROL_ERROR.
func (s *stream) recvWindowUpdate(incr uint32) error {
	const maxWindow = 1<<31 - 1
	if s.sendWindow > maxWindow-int32(incr) {
		return streamError(s.id, ErrCodeFlowControl)
	}
	s.sendWindow += int32(incr)
	return nil
}

// recvRSTStream closes the stream abnormally and fails its request.
func (s *stream) recvRSTStream(code ErrCode) {
	serr := streamError(s.id, code)
	serr.Cause = errFromPeer
	s.conn.failStream(s, serr)
}

// finish finalizes and delivers the response, then closes the stream.
// Closing releases one unit of admission budget back to the queue.
func (s *stream) finish() {
	s.state = stateClosed
	s.resp.finalize()
	s.conn.deliverEvent(ResponseEvent{Ref: s.ref, StreamID: s.id, Response: s.resp})
	s.conn.streamFinished(s.id)
}

func (s *stream) close() {
	s.state = stateClosed
	s.conn.streamFinished(s.id)
}
