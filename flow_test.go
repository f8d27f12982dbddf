package vex

import (
	"math"
	"testing"

	"github.com/vexhttp/vex/internal/tests"
)

// fakeSink records the drain's actions without a live connection.
type fakeSink struct {
	nextID  uint32
	windows map[uint32]*int32
	initial int32
	chunks  [][]byte
	ends    []bool
	refuse  bool
}

func newFakeSink(initialWindow int32) *fakeSink {
	return &fakeSink{nextID: 1, windows: map[uint32]*int32{}, initial: initialWindow}
}

func (fs *fakeSink) openStream(p *pendingRequest) error {
	if fs.refuse {
		return nil
	}
	p.streamID = fs.nextID
	fs.nextID += 2
	win := fs.initial
	fs.windows[p.streamID] = &win
	return nil
}

func (fs *fakeSink) writeBodyChunk(p *pendingRequest, chunk []byte, endStream bool) error {
	c := make([]byte, len(chunk))
	copy(c, chunk)
	fs.chunks = append(fs.chunks, c)
	fs.ends = append(fs.ends, endStream)
	return nil
}

func (fs *fakeSink) streamSendWindow(id uint32) *int32 {
	return fs.windows[id]
}

func TestAllocStreamID(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	var prev uint32
	for i := 0; i < 5; i++ {
		id := fc.allocStreamID()
		if id%2 != 1 {
			t.Fatalf("stream id %d is not odd", id)
		}
		if id <= prev {
			t.Fatalf("stream id %d not greater than %d", id, prev)
		}
		prev = id
	}
	tests.AssertEqual(t, uint32(1+2*5), fc.nextStreamID)
}

func TestActiveSet(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	fc.addActive(1)
	fc.addActive(3)
	fc.addActive(3) // idempotent
	tests.AssertEqual(t, 2, fc.activeCount)
	tests.AssertEqual(t, len(fc.active), fc.activeCount)
	fc.removeActive(1)
	fc.removeActive(1) // idempotent
	tests.AssertEqual(t, 1, fc.activeCount)
	tests.AssertEqual(t, len(fc.active), fc.activeCount)
}

func TestIncrementWindowOverflow(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	tests.AssertNoError(t, fc.incrementWindow(100))
	tests.AssertEqual(t, int32(initialWindowSize+100), fc.connSendWindow)

	fc.connSendWindow = math.MaxInt32 - 1
	err := fc.incrementWindow(2)
	tests.AssertEqual(t, ConnectionError(ErrCodeFlowControl), err)
}

func TestUpdateSettingsReturnsWindowDelta(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	next := fc.settings
	next.InitialWindowSize = 70000
	delta := fc.updateSettings(next)
	tests.AssertEqual(t, int32(70000-65535), delta)
	tests.AssertEqual(t, next, fc.settings)

	next.InitialWindowSize = 10
	delta = fc.updateSettings(next)
	tests.AssertEqual(t, int32(10-70000), delta)
}

func TestDemand(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	// No declared limit: the unbounded proxy.
	tests.AssertEqual(t, uint32(unboundedStreamDemand), fc.demand())

	s := fc.settings
	s.MaxConcurrentStreams = 3
	fc.updateSettings(s)
	tests.AssertEqual(t, uint32(3), fc.demand())
	fc.addActive(1)
	fc.addActive(3)
	tests.AssertEqual(t, uint32(1), fc.demand())
	fc.addActive(5)
	tests.AssertEqual(t, uint32(0), fc.demand())
}

func TestProcessDrainsWholeBody(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	sink := newFakeSink(1 << 20)
	fc.add(&pendingRequest{ref: 1, body: make([]byte, 100)})
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 0, len(fc.pending))
	tests.AssertEqual(t, 1, len(sink.chunks))
	tests.AssertEqual(t, 100, len(sink.chunks[0]))
	tests.AssertEqual(t, true, sink.ends[0])
	tests.AssertEqual(t, int32(initialWindowSize-100), fc.connSendWindow)
}

func TestProcessSplitsByMaxFrameSize(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	sink := newFakeSink(1 << 20)
	fc.add(&pendingRequest{ref: 1, body: make([]byte, initialMaxFrameSize+10)})
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 2, len(sink.chunks))
	tests.AssertEqual(t, initialMaxFrameSize, len(sink.chunks[0]))
	tests.AssertEqual(t, 10, len(sink.chunks[1]))
	tests.AssertEqual(t, []bool{false, true}, sink.ends)
}

func TestProcessBlocksOnStreamWindow(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	sink := newFakeSink(10)
	p := &pendingRequest{ref: 1, body: make([]byte, 25)}
	fc.add(p)
	tests.AssertNoError(t, fc.process(sink))
	// 10 bytes go out, the request stays at the head.
	tests.AssertEqual(t, 1, len(sink.chunks))
	tests.AssertEqual(t, 10, len(sink.chunks[0]))
	tests.AssertEqual(t, 10, p.sent)
	tests.AssertEqual(t, 1, len(fc.pending))

	// Crediting the stream window resumes the drain.
	*sink.windows[p.streamID] += 15
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 2, len(sink.chunks))
	tests.AssertEqual(t, 15, len(sink.chunks[1]))
	tests.AssertEqual(t, true, sink.ends[1])
	tests.AssertEqual(t, 0, len(fc.pending))
}

func TestProcessBlocksOnConnectionWindow(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	fc.connSendWindow = 8
	sink := newFakeSink(1 << 20)
	fc.add(&pendingRequest{ref: 1, body: make([]byte, 20)})
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 1, len(sink.chunks))
	tests.AssertEqual(t, 8, len(sink.chunks[0]))
	tests.AssertEqual(t, int32(0), fc.connSendWindow)

	// A blocked head also blocks later requests.
	fc.add(&pendingRequest{ref: 2, body: nil})
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 2, len(fc.pending))

	tests.AssertNoError(t, fc.incrementWindow(100))
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 0, len(fc.pending))
}

func TestProcessRefusedRequestIsDropped(t *testing.T) {
	fc := newFlowControl(defaultSettings())
	sink := newFakeSink(100)
	sink.refuse = true
	fc.add(&pendingRequest{ref: 1, body: []byte("x")})
	tests.AssertNoError(t, fc.process(sink))
	tests.AssertEqual(t, 0, len(fc.pending))
	tests.AssertEqual(t, 0, len(sink.chunks))
}
