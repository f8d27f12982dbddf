package vex

import (
	"math"
)

// pendingRequest is one admitted request travelling from the queue to
// the wire. Until openStream assigns a stream id it has not consumed
// a stream slot; afterwards it stays at the head of the send queue
// until its body has been fully framed under flow control.
type pendingRequest struct {
	req      *Request
	ref      Ref
	streamID uint32 // 0 until the stream is opened
	body     []byte
	sent     int // bytes of body already framed
}

// flowControl tracks the send-side flow control and stream admission
// state of one connection: the effective peer settings, stream id
// allocation, the active stream set, the deferred request queue, and
// the connection-level windows. It is owned and mutated only by the
// connection engine goroutine.
type flowControl struct {
	settings       Settings // effective peer settings
	nextStreamID   uint32   // odd; allocated ids are never reused
	active         map[uint32]struct{}
	activeCount    int
	pending        []*pendingRequest
	connSendWindow int32
	connRecvWindow int32
}

func newFlowControl(peer Settings) *flowControl {
	return &flowControl{
		settings:     peer,
		nextStreamID: 1,
		active:       make(map[uint32]struct{}),
		// The connection windows always start at 65535 octets;
		// SETTINGS_INITIAL_WINDOW_SIZE applies to streams only
		// (RFC 7540 §6.9.2).
		connSendWindow: initialWindowSize,
		connRecvWindow: initialWindowSize,
	}
}

// add appends a request to the deferred queue. It does not send
// anything; the engine calls process to drain.
func (fc *flowControl) add(p *pendingRequest) {
	fc.pending = append(fc.pending, p)
}

// allocStreamID hands out the next client-initiated stream id.
func (fc *flowControl) allocStreamID() uint32 {
	id := fc.nextStreamID
	fc.nextStreamID += 2
	return id
}

func (fc *flowControl) addActive(id uint32) {
	if _, ok := fc.active[id]; ok {
		return
	}
	fc.active[id] = struct{}{}
	fc.activeCount++
}

func (fc *flowControl) removeActive(id uint32) {
	if _, ok := fc.active[id]; !ok {
		return
	}
	delete(fc.active, id)
	fc.activeCount--
}

// incrementWindow credits the connection send window, guarding
// against overflow past 2^31-1 as required by RFC 7540 §6.9.1.
func (fc *flowControl) incrementWindow(delta int32) error {
	if delta > 0 && fc.connSendWindow > math.MaxInt32-delta {
		return ConnectionError(ErrCodeFlowControl)
	}
	fc.connSendWindow += delta
	return nil
}

// updateSettings replaces the effective peer settings and returns the
// INITIAL_WINDOW_SIZE delta (new minus old) the caller must propagate
// to every active stream's send window.
func (fc *flowControl) updateSettings(next Settings) (windowDelta int32) {
	windowDelta = int32(next.InitialWindowSize) - int32(fc.settings.InitialWindowSize)
	fc.settings = next
	return windowDelta
}

// demand is how many more requests this connection is willing to pull
// from the queue: the free stream slots, or a very large finite proxy
// when the peer declares no limit.
func (fc *flowControl) demand() uint32 {
	if fc.settings.MaxConcurrentStreams == noLimit {
		return unboundedStreamDemand
	}
	if int(fc.settings.MaxConcurrentStreams) <= fc.activeCount {
		return 0
	}
	return fc.settings.MaxConcurrentStreams - uint32(fc.activeCount)
}

// frameSink is the slice of the connection engine the flow-control
// drain needs: opening a stream for a request and emitting one DATA
// frame's worth of its body.
type frameSink interface {
	openStream(p *pendingRequest) error
	writeBodyChunk(p *pendingRequest, chunk []byte, endStream bool) error
	streamSendWindow(id uint32) *int32
}

// process drains the deferred queue greedily while both the
// connection window and the head request's stream window have credit.
// A request whose windows are exhausted stays at the head; a later
// WINDOW_UPDATE re-triggers the drain.
func (fc *flowControl) process(sink frameSink) error {
	for len(fc.pending) > 0 {
		p := fc.pending[0]
		if p.streamID == 0 {
			if err := sink.openStream(p); err != nil {
				return err
			}
			if p.streamID == 0 {
				// Refused (connection is going away); openStream
				// has already failed the request back to the user.
				fc.pending = fc.pending[1:]
				continue
			}
		} else if sink.streamSendWindow(p.streamID) == nil {
			// The stream was reset while its body was blocked on
			// flow control; drop the unsent remainder.
			fc.pending = fc.pending[1:]
			continue
		}
		for p.sent < len(p.body) {
			win := sink.streamSendWindow(p.streamID)
			if fc.connSendWindow <= 0 || win == nil || *win <= 0 {
				break
			}
			n := len(p.body) - p.sent
			if max := int(fc.settings.MaxFrameSize); n > max {
				n = max
			}
			if int32(n) > fc.connSendWindow {
				n = int(fc.connSendWindow)
			}
			if int32(n) > *win {
				n = int(*win)
			}
			end := p.sent+n == len(p.body)
			if err := sink.writeBodyChunk(p, p.body[p.sent:p.sent+n], end); err != nil {
				return err
			}
			p.sent += n
			fc.connSendWindow -= int32(n)
			*win -= int32(n)
		}
		if p.sent < len(p.body) {
			return nil // blocked on flow control
		}
		// Sending the final chunk can tear the connection down from
		// inside the sink, clearing the queue under us.
		if len(fc.pending) > 0 && fc.pending[0] == p {
			fc.pending = fc.pending[1:]
		}
	}
	return nil
}
