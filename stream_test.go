package vex

import (
	"bytes"
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/vexhttp/vex/internal/tests"
)

// newBareConn builds an engine whose state can be driven synchronously
// from the test goroutine, with no run loop and a fake transport.
func newBareConn() (*Conn, chan Event) {
	events := make(chan Event, 16)
	c := &Conn{
		log:       &disableLogger{},
		transport: newFakeTransport(),
		queue:     NewRequestQueue(),
		events:    events,
		mailbox:   make(chan event, 4),
		done:      make(chan struct{}),
		local:     defaultSettings(),
		fc:        newFlowControl(defaultSettings()),
		hpack:     newHpackPair(),
		streams:   make(map[uint32]*stream),
	}
	return c, events
}

func encodeBlock(t *testing.T, fields ...hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestStreamStateString(t *testing.T) {
	tests.AssertEqual(t, "Idle", stateIdle.String())
	tests.AssertEqual(t, "HalfClosedLocal", stateHalfClosedLocal.String())
	tests.AssertEqual(t, "Closed", stateClosed.String())
}

func TestStreamSendTransitions(t *testing.T) {
	c, _ := newBareConn()
	s := newStream(c, 1, 1)
	tests.AssertEqual(t, stateIdle, s.state)

	s.sendHeadersDone(false)
	tests.AssertEqual(t, stateOpen, s.state)

	s.sendEndStream()
	tests.AssertEqual(t, stateHalfClosedLocal, s.state)

	s2 := newStream(c, 3, 2)
	s2.sendHeadersDone(true)
	tests.AssertEqual(t, stateHalfClosedLocal, s2.state)
}

func TestStreamRecvEndStreamTransitions(t *testing.T) {
	c, events := newBareConn()
	s := newStream(c, 1, 1)
	c.streams[1] = s
	c.fc.addActive(1)

	s.sendHeadersDone(false)
	s.recvEndStream()
	tests.AssertEqual(t, stateHalfClosedRemote, s.state)

	// Our END_STREAM after theirs closes the stream.
	s.sendEndStream()
	tests.AssertEqual(t, stateClosed, s.state)
	tests.AssertEqual(t, 0, c.fc.activeCount)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %T for a request that sent no response", ev)
	default:
	}
}

func TestStreamHeaderAssembly(t *testing.T) {
	c, _ := newBareConn()
	s := newStream(c, 1, 7)
	c.streams[1] = s
	c.fc.addActive(1)
	s.sendHeadersDone(true) // GET: we are half-closed (local)

	block := encodeBlock(t,
		hpack.HeaderField{Name: ":status", Value: "200"},
		hpack.HeaderField{Name: "server", Value: "unit"},
	)
	half := len(block) / 2
	err := s.recvHeaders(&HeadersFrame{
		FrameHeader:    FrameHeader{Type: FrameHeaders, StreamID: 1},
		headerFragment: block[:half],
	})
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, true, s.awaitingContinuation)

	err = s.recvContinuation(&ContinuationFrame{
		FrameHeader:    FrameHeader{Type: FrameContinuation, Flags: FlagContinuationEndHeaders, StreamID: 1},
		headerFragment: block[half:],
	})
	tests.AssertNoError(t, err)
	tests.AssertEqual(t, false, s.awaitingContinuation)
	tests.AssertEqual(t, 200, s.resp.Status)
	tests.AssertEqual(t, "unit", s.resp.Header.Get("server"))
}

func TestStreamContinuationWithoutHeaders(t *testing.T) {
	c, _ := newBareConn()
	s := newStream(c, 1, 1)
	err := s.recvContinuation(&ContinuationFrame{
		FrameHeader: FrameHeader{Type: FrameContinuation, StreamID: 1},
	})
	tests.AssertEqual(t, ConnectionError(ErrCodeProtocol), err)
}

func TestStreamDataDelivery(t *testing.T) {
	c, events := newBareConn()
	s := newStream(c, 1, 9)
	c.streams[1] = s
	c.fc.addActive(1)
	s.sendHeadersDone(true)

	err := s.recvHeaders(&HeadersFrame{
		FrameHeader:    FrameHeader{Type: FrameHeaders, Flags: FlagHeadersEndHeaders, StreamID: 1},
		headerFragment: encodeBlock(t, hpack.HeaderField{Name: ":status", Value: "200"}),
	})
	tests.AssertNoError(t, err)

	before := s.recvWindow
	s.recvData(&DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, StreamID: 1},
		data:        []byte("hel"),
	})
	tests.AssertEqual(t, before-3, s.recvWindow)
	s.recvData(&DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, Flags: FlagDataEndStream, StreamID: 1},
		data:        []byte("lo"),
	})
	tests.AssertEqual(t, stateClosed, s.state)
	tests.AssertEqual(t, 0, c.fc.activeCount)

	ev := <-events
	re, ok := ev.(ResponseEvent)
	if !ok {
		t.Fatalf("got %T; want ResponseEvent", ev)
	}
	tests.AssertEqual(t, Ref(9), re.Ref)
	tests.AssertBytesEqual(t, []byte("hello"), re.Response.Body())
}

func TestStreamEndStreamOnHeadersWithContinuation(t *testing.T) {
	c, events := newBareConn()
	s := newStream(c, 1, 2)
	c.streams[1] = s
	c.fc.addActive(1)
	s.sendHeadersDone(true)

	block := encodeBlock(t, hpack.HeaderField{Name: ":status", Value: "204"})
	// END_STREAM on HEADERS, END_HEADERS deferred to CONTINUATION:
	// the response must not finish before the block completes.
	err := s.recvHeaders(&HeadersFrame{
		FrameHeader:    FrameHeader{Type: FrameHeaders, Flags: FlagHeadersEndStream, StreamID: 1},
		headerFragment: block[:1],
	})
	tests.AssertNoError(t, err)
	select {
	case <-events:
		t.Fatal("response delivered before END_HEADERS")
	default:
	}
	err = s.recvContinuation(&ContinuationFrame{
		FrameHeader:    FrameHeader{Type: FrameContinuation, Flags: FlagContinuationEndHeaders, StreamID: 1},
		headerFragment: block[1:],
	})
	tests.AssertNoError(t, err)
	re := (<-events).(ResponseEvent)
	tests.AssertEqual(t, 204, re.Response.Status)
	tests.AssertEqual(t, stateClosed, s.state)
}

func TestStreamInvalidPseudoHeader(t *testing.T) {
	c, _ := newBareConn()
	s := newStream(c, 1, 1)
	c.streams[1] = s
	s.sendHeadersDone(true)

	err := s.recvHeaders(&HeadersFrame{
		FrameHeader:    FrameHeader{Type: FrameHeaders, Flags: FlagHeadersEndHeaders, StreamID: 1},
		headerFragment: encodeBlock(t, hpack.HeaderField{Name: ":method", Value: "GET"}),
	})
	serr, ok := err.(StreamError)
	if !ok || serr.Code != ErrCodeProtocol {
		t.Fatalf("got %v; want stream PROTOCOL_ERROR", err)
	}
}

func TestStreamWindowUpdateOverflow(t *testing.T) {
	c, _ := newBareConn()
	s := newStream(c, 1, 1)
	s.sendWindow = 1<<31 - 2
	err := s.recvWindowUpdate(2)
	serr, ok := err.(StreamError)
	if !ok || serr.Code != ErrCodeFlowControl {
		t.Fatalf("got %v; want stream FLOW_CONTROL_ERROR", err)
	}
	tests.AssertNoError(t, s.recvWindowUpdate(1))
	tests.AssertEqual(t, int32(1<<31-1), s.sendWindow)
}

func TestStreamRSTClosesAndFails(t *testing.T) {
	c, events := newBareConn()
	s := newStream(c, 1, 4)
	c.streams[1] = s
	c.fc.addActive(1)
	s.sendHeadersDone(false)

	s.recvRSTStream(ErrCodeCancel)
	tests.AssertEqual(t, stateClosed, s.state)
	tests.AssertEqual(t, 0, c.fc.activeCount)
	re := (<-events).(ResponseEvent)
	serr, ok := re.Err.(StreamError)
	if !ok || serr.Code != ErrCodeCancel || serr.Cause != errFromPeer {
		t.Fatalf("got %v; want CANCEL from peer", re.Err)
	}
}
