package vex

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"net/url"
	"time"
)

const (
	// ClientPreface is the string that must be sent by new
	// connections from clients.
	ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

	// NextProtoTLS is the ALPN protocol negotiated during
	// HTTP/2's TLS setup.
	NextProtoTLS = "h2"

	// connReceiveWindowBoost is the connection-level WINDOW_UPDATE
	// increment sent once the peer has acknowledged our SETTINGS,
	// opening the receive window wide for bulk downloads.
	connReceiveWindowBoost = 2_000_000_000
)

var clientPreface = []byte(ClientPreface)

// ConnConfig configures Open.
type ConnConfig struct {
	// URL is the https origin to connect to.
	URL *url.URL

	// TLSConfig is cloned before use; ServerName and ALPN are
	// filled in if absent.
	TLSConfig *tls.Config

	// Settings are the local settings announced right after the
	// preface. The zero value means the protocol defaults.
	Settings Settings

	// Queue is the admission queue the engine pulls requests
	// from. Required.
	Queue *RequestQueue

	// Events receives the connection's callback surface: pings,
	// pongs, push promises, responses, closure. Required.
	Events chan<- Event

	// Transport, if non-nil, replaces the TLS transport. Tests
	// inject in-memory fakes here.
	Transport Transport

	Logger      Logger
	DialTimeout time.Duration
}

// engine mailbox events. The engine goroutine owns all connection
// state and consumes these in arrival order; no mutex guards the
// state because nothing else mutates it.
type event interface{}

type evData struct{ buf []byte }
type evClosed struct{ err error }
type evRequests struct{ batch []*pendingRequest }
type evPing struct{}
type evClose struct{ done chan struct{} }

// Conn is one HTTP/2 client connection: preface handshake, frame
// dispatch, settings negotiation, flow control and the queue pull
// loop, multiplexing all of its streams over a single transport.
type Conn struct {
	log       Logger
	transport Transport
	queue     *RequestQueue
	events    chan<- Event

	mailbox chan event
	done    chan struct{}

	// Everything below is owned by the run goroutine.
	accum   []byte // partial-frame byte accumulator
	local   Settings
	fc      *flowControl
	hpack   *hpackPair
	streams map[uint32]*stream

	// Continuation rule: while nonzero, only CONTINUATION frames
	// for this stream id are legal on the wire. contTarget is the
	// stream accumulating the block (the promised stream for a
	// PUSH_PROMISE, else the addressed stream itself).
	contStreamID uint32
	contTarget   *stream

	seenSettings      bool // peer's first SETTINGS arrived
	wantSettingsAck   bool // we sent SETTINGS, awaiting peer ack
	sentWindowBoost   bool
	goAway            *GoAwayFrame
	lastLocalStreamID uint32 // highest stream id we initiated
	demanded          int    // demand granted to the queue, not yet delivered
	closed            bool
}

// Open connects the transport, sends the 24-octet client preface
// followed by our SETTINGS frame, subscribes to the request queue
// with initial demand zero, and starts the engine.
func Open(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	log := cfg.Logger
	if log == nil {
		log = createLogger()
	}
	local := cfg.Settings
	if local == (Settings{}) {
		local = defaultSettings()
	}
	tr := cfg.Transport
	if tr == nil {
		var err error
		tr, err = newTLSTransport(cfg.URL, cfg.TLSConfig, cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
	}
	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}

	c := &Conn{
		log:       log,
		transport: tr,
		queue:     cfg.Queue,
		events:    cfg.Events,
		mailbox:   make(chan event, 64),
		done:      make(chan struct{}),
		local:     local,
		fc:        newFlowControl(defaultSettings()),
		hpack:     newHpackPair(),
		streams:   make(map[uint32]*stream),
	}
	c.hpack.updateDecoderTableSize(local.HeaderTableSize)

	buf := append([]byte(nil), clientPreface...)
	buf = appendSettings(buf, local.list()...)
	if err := tr.Send(buf); err != nil {
		tr.Close()
		return nil, err
	}
	c.wantSettingsAck = true

	c.queue.subscribe(c.deliverBatch)
	tr.Start(c.onTransportData, c.onTransportClosed)
	tr.ArmRead()
	go c.run()
	return c, nil
}

// Done is closed when the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Ping enqueues an outbound PING. The ack surfaces to the client as a
// PongEvent.
func (c *Conn) Ping() {
	c.post(evPing{})
}

// Close sends GOAWAY with NO_ERROR and the last locally-initiated
// stream id, then tears the connection down. It blocks until the
// engine has stopped.
func (c *Conn) Close() {
	done := make(chan struct{})
	if !c.post(evClose{done: done}) {
		return
	}
	select {
	case <-done:
	case <-c.done:
	}
}

func (c *Conn) post(ev event) bool {
	select {
	case c.mailbox <- ev:
		return true
	case <-c.done:
		return false
	}
}

// onTransportData and onTransportClosed run on the transport's read
// goroutine and only post to the mailbox.
func (c *Conn) onTransportData(p []byte) {
	c.post(evData{buf: p})
}

func (c *Conn) onTransportClosed(err error) {
	c.post(evClosed{err: err})
}

// deliverBatch is the queue subscription callback. It may fire from a
// producer goroutine or reentrantly from the engine itself (ask →
// deliver), so a full mailbox falls back to an async post instead of
// deadlocking the engine against its own mailbox.
func (c *Conn) deliverBatch(batch []*pendingRequest) {
	ev := evRequests{batch: batch}
	select {
	case c.mailbox <- ev:
	case <-c.done:
		for _, p := range batch {
			c.deliverEvent(ResponseEvent{Ref: p.ref, Err: errConnClosed})
		}
	default:
		go c.post(ev)
	}
}

func (c *Conn) run() {
	for !c.closed {
		ev := <-c.mailbox
		switch ev := ev.(type) {
		case evData:
			c.onBytes(ev.buf)
			if !c.closed {
				c.transport.ArmRead()
			}
		case evClosed:
			// Transport-level disconnect: same shutdown path as
			// GOAWAY teardown, skipping the GOAWAY send.
			c.shutdown(ev.err)
		case evRequests:
			c.demanded -= len(ev.batch)
			if c.demanded < 0 {
				c.demanded = 0
			}
			for _, p := range ev.batch {
				c.fc.add(p)
			}
			c.drainPending()
		case evPing:
			c.sendPing()
		case evClose:
			c.writeGoAway(ErrCodeNo)
			c.shutdown(nil)
			close(ev.done)
		}
	}
}

// onBytes appends to the accumulator and drains the frame codec,
// dispatching each complete frame in wire order.
func (c *Conn) onBytes(buf []byte) {
	c.accum = append(c.accum, buf...)
	for !c.closed {
		f, rest, err := readFrame(c.accum, c.local.MaxFrameSize)
		c.accum = rest
		if err == errFrameTooShort {
			return
		}
		if err != nil {
			c.handleFrameError(err)
			continue
		}
		if err := c.dispatch(f); err != nil {
			c.handleFrameError(err)
		}
	}
}

// handleFrameError applies the propagation policy: stream-scoped
// errors reset the stream and leave the connection up; everything
// else is connection-scoped and terminates with GOAWAY.
func (c *Conn) handleFrameError(err error) {
	var se StreamError
	if errors.As(err, &se) {
		c.log.Warnf("stream %d error: %v", se.StreamID, err)
		c.resetStream(se)
		return
	}
	c.terminate(err)
}

func (c *Conn) resetStream(se StreamError) {
	if se.Cause != errFromPeer {
		if b, err := appendRSTStream(nil, se.StreamID, se.Code); err == nil {
			c.write(b)
		}
	}
	if s, ok := c.streams[se.StreamID]; ok {
		c.failStream(s, se)
	}
}

// terminate closes the connection after a connection-scoped protocol
// violation, sending GOAWAY with the appropriate error code.
func (c *Conn) terminate(err error) {
	code := ErrCodeProtocol
	var ce ConnectionError
	var pe connError
	switch {
	case errors.As(err, &ce):
		code = ErrCode(ce)
	case errors.As(err, &pe):
		code = pe.Code
	}
	c.log.Errorf("connection error: %v", err)
	c.writeGoAway(code)
	c.shutdown(err)
}

func (c *Conn) writeGoAway(code ErrCode) {
	if b, err := appendGoAway(nil, c.lastLocalStreamID, code, nil); err == nil {
		c.write(b)
	}
}

func (c *Conn) dispatch(f Frame) error {
	if c.contStreamID != 0 {
		// While a header block is being assembled, the only legal
		// frame on the connection is a CONTINUATION for that stream.
		cf, ok := f.(*ContinuationFrame)
		if !ok || cf.StreamID != c.contStreamID {
			return ConnectionError(ErrCodeProtocol)
		}
	}
	switch f := f.(type) {
	case *SettingsFrame:
		return c.processSettings(f)
	case *PingFrame:
		return c.processPing(f)
	case *GoAwayFrame:
		return c.processGoAway(f)
	case *WindowUpdateFrame:
		return c.processWindowUpdate(f)
	case *DataFrame:
		return c.processData(f)
	case *HeadersFrame:
		return c.processHeaders(f)
	case *ContinuationFrame:
		return c.processContinuation(f)
	case *RSTStreamFrame:
		return c.processResetStream(f)
	case *PushPromiseFrame:
		return c.processPushPromise(f)
	case *PriorityFrame:
		// Observed, not optimized.
		c.log.Debugf("ignoring %v", summarizeFrame(f))
		return nil
	case *UnknownFrame:
		// Implementations MUST ignore and discard any frame that
		// has a type that is unknown.
		c.log.Debugf("ignoring frame of unknown type %d", uint8(f.Type))
		return nil
	}
	return nil
}

func (c *Conn) processSettings(f *SettingsFrame) error {
	if f.IsAck() {
		if !c.wantSettingsAck {
			return ConnectionError(ErrCodeProtocol)
		}
		c.wantSettingsAck = false
		if !c.sentWindowBoost {
			c.sentWindowBoost = true
			if b, err := appendWindowUpdate(nil, 0, connReceiveWindowBoost); err == nil {
				c.write(b)
				c.fc.connRecvWindow += connReceiveWindowBoost
			}
		}
		return nil
	}

	next := c.fc.settings
	if err := next.apply(f.settings); err != nil {
		return err
	}
	delta := c.fc.updateSettings(next)
	if delta != 0 {
		for _, s := range c.streams {
			s.sendWindow += delta
		}
	}
	c.hpack.updateEncoderTableSize(next.HeaderTableSize)
	c.write(appendSettingsAck(nil))
	c.seenSettings = true
	c.refreshDemand()
	if delta > 0 {
		c.drainPending()
	}
	return nil
}

// refreshDemand grants the queue whatever admission budget is free
// beyond what has already been granted:
// max_concurrent_streams − active_stream_count − outstanding grants.
func (c *Conn) refreshDemand() {
	if !c.seenSettings || c.goAway != nil || c.closed {
		return
	}
	want := int(c.fc.demand()) - c.demanded
	if want <= 0 {
		return
	}
	c.demanded += want
	c.queue.ask(uint32(want))
}

func (c *Conn) processPing(f *PingFrame) error {
	if f.IsAck() {
		c.deliverEvent(PongEvent{})
		return nil
	}
	c.deliverEvent(PingEvent{})
	c.write(appendPing(nil, true, f.Data))
	return nil
}

func (c *Conn) processGoAway(f *GoAwayFrame) error {
	c.log.Debugf("received GOAWAY: last stream %d, code %v, debug %q",
		f.LastStreamID, f.ErrCode, f.DebugData())
	c.goAway = f
	gerr := GoAwayError{
		LastStreamID: f.LastStreamID,
		ErrCode:      f.ErrCode,
		DebugData:    string(f.DebugData()),
	}
	// Streams above the peer's last-stream-id were never processed.
	for id, s := range c.streams {
		if id > f.LastStreamID && id%2 == 1 {
			c.failStream(s, gerr)
		}
	}
	// Requests not yet on the wire can no longer be admitted.
	var keep []*pendingRequest
	for _, p := range c.fc.pending {
		if p.streamID == 0 {
			c.deliverEvent(ResponseEvent{Ref: p.ref, Err: gerr})
			continue
		}
		keep = append(keep, p)
	}
	c.fc.pending = keep
	c.queue.drain(func(p *pendingRequest, err error) {
		c.deliverEvent(ResponseEvent{Ref: p.ref, Err: err})
	}, gerr)

	// Lower-id streams continue until normal completion;
	// streamFinished tears down once the last one closes.
	if c.fc.activeCount == 0 {
		c.shutdown(nil)
	}
	return nil
}

func (c *Conn) processWindowUpdate(f *WindowUpdateFrame) error {
	if f.StreamID == 0 {
		if err := c.fc.incrementWindow(int32(f.Increment)); err != nil {
			return err
		}
		c.drainPending()
		return nil
	}
	s := c.streams[f.StreamID]
	if s == nil {
		c.log.Warnf("dropping WINDOW_UPDATE for unknown stream %d", f.StreamID)
		return nil
	}
	if err := s.recvWindowUpdate(f.Increment); err != nil {
		return err
	}
	c.drainPending()
	return nil
}

func (c *Conn) processData(f *DataFrame) error {
	s := c.streams[f.StreamID]
	n := len(f.Data())
	if s == nil {
		c.log.Warnf("dropping DATA for unknown stream %d", f.StreamID)
	} else {
		s.recvData(f)
	}
	c.fc.connRecvWindow -= int32(n)
	if n == 0 {
		return nil
	}
	// Reflow policy: replenish both windows immediately so receive
	// windows stay at their initial values.
	var buf []byte
	var err error
	if s != nil {
		if buf, err = appendWindowUpdate(buf, f.StreamID, uint32(n)); err != nil {
			return err
		}
		s.recvWindow += int32(n)
	}
	if buf, err = appendWindowUpdate(buf, 0, uint32(n)); err != nil {
		return err
	}
	c.fc.connRecvWindow += int32(n)
	c.write(buf)
	return nil
}

func (c *Conn) processHeaders(f *HeadersFrame) error {
	s := c.streams[f.StreamID]
	if s == nil {
		c.log.Warnf("dropping HEADERS for unknown stream %d", f.StreamID)
		return nil
	}
	if err := s.recvHeaders(f); err != nil {
		return err
	}
	if s.awaitingContinuation {
		c.contStreamID = f.StreamID
		c.contTarget = s
	}
	return nil
}

func (c *Conn) processContinuation(f *ContinuationFrame) error {
	s := c.contTarget
	if s == nil {
		return ConnectionError(ErrCodeProtocol)
	}
	if err := s.recvContinuation(f); err != nil {
		return err
	}
	if !s.awaitingContinuation {
		c.contStreamID = 0
		c.contTarget = nil
	}
	return nil
}

func (c *Conn) processResetStream(f *RSTStreamFrame) error {
	s := c.streams[f.StreamID]
	if s == nil {
		// Unstarted or long-gone stream: log and drop, no state change.
		c.log.Warnf("dropping RST_STREAM (%v) for unknown stream %d", f.ErrCode, f.StreamID)
		return nil
	}
	s.recvRSTStream(f.ErrCode)
	return nil
}

func (c *Conn) processPushPromise(f *PushPromiseFrame) error {
	if !c.local.EnablePush {
		// We told the peer we don't want them.
		return ConnectionError(ErrCodeProtocol)
	}
	if f.PromiseID%2 != 0 || f.PromiseID == 0 {
		// Server-initiated streams are even.
		return ConnectionError(ErrCodeProtocol)
	}
	if _, ok := c.streams[f.PromiseID]; ok {
		return ConnectionError(ErrCodeProtocol)
	}
	s := newStream(c, f.PromiseID, 0)
	c.streams[f.PromiseID] = s
	c.fc.addActive(f.PromiseID)
	if err := s.recvPushPromise(f); err != nil {
		return err
	}
	if s.awaitingContinuation {
		// The promise's CONTINUATIONs arrive on the associated
		// stream id, but the block belongs to the promised stream.
		c.contStreamID = f.StreamID
		c.contTarget = s
	}
	return nil
}

// drainPending pushes queued requests onto the wire while admission
// and both flow-control windows allow.
func (c *Conn) drainPending() {
	if c.closed {
		return
	}
	if err := c.fc.process(c); err != nil {
		c.terminate(err)
	}
}

// openStream assigns the next odd stream id to p, registers the
// stream record, and sends HEADERS plus any CONTINUATIONs an
// oversized header block needs.
func (c *Conn) openStream(p *pendingRequest) error {
	if c.goAway != nil {
		c.deliverEvent(ResponseEvent{Ref: p.ref, Err: GoAwayError{
			LastStreamID: c.goAway.LastStreamID,
			ErrCode:      c.goAway.ErrCode,
			DebugData:    string(c.goAway.DebugData()),
		}})
		return nil
	}
	fields, err := p.req.headerFields()
	if err != nil {
		c.deliverEvent(ResponseEvent{Ref: p.ref, Err: err})
		return nil
	}
	block, err := c.hpack.encode(fields)
	if err != nil {
		return err
	}
	id := c.fc.allocStreamID()
	p.streamID = id
	c.lastLocalStreamID = id
	s := newStream(c, id, p.ref)
	c.streams[id] = s
	c.fc.addActive(id)

	endStream := len(p.body) == 0
	maxFrame := int(c.fc.settings.MaxFrameSize)
	first := block
	if len(first) > maxFrame {
		first = block[:maxFrame]
	}
	buf, err := appendHeaders(nil, HeadersFrameParam{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(block) == len(first),
	})
	if err != nil {
		return err
	}
	for rest := block[len(first):]; len(rest) > 0; {
		n := min(len(rest), maxFrame)
		buf, err = appendContinuation(buf, id, n == len(rest), rest[:n])
		if err != nil {
			return err
		}
		rest = rest[n:]
	}
	c.write(buf)
	s.sendHeadersDone(endStream)
	return nil
}

// writeBodyChunk emits one DATA frame of p's body. Flow-control
// debits are applied by the caller.
func (c *Conn) writeBodyChunk(p *pendingRequest, chunk []byte, endStream bool) error {
	b, err := appendData(nil, p.streamID, endStream, chunk)
	if err != nil {
		return err
	}
	c.write(b)
	if endStream {
		if s := c.streams[p.streamID]; s != nil {
			s.sendEndStream()
		}
	}
	return nil
}

func (c *Conn) streamSendWindow(id uint32) *int32 {
	s := c.streams[id]
	if s == nil {
		return nil
	}
	return &s.sendWindow
}

func (c *Conn) sendPing() {
	var data [8]byte
	rand.Read(data[:])
	c.write(appendPing(nil, false, data))
}

// streamFinished releases a closed stream's id and slot, granting one
// unit of admission demand back to the queue.
func (c *Conn) streamFinished(id uint32) {
	c.fc.removeActive(id)
	delete(c.streams, id)
	if c.contStreamID == id {
		c.contStreamID = 0
		c.contTarget = nil
	}
	if c.goAway != nil {
		if c.fc.activeCount == 0 {
			c.shutdown(nil)
		}
		return
	}
	if c.closed {
		return
	}
	c.demanded++
	c.queue.ask(1)
}

// failStream delivers an error result for the stream's request and
// closes the stream, leaving the connection up.
func (c *Conn) failStream(s *stream, err error) {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	if s.ref != 0 {
		c.deliverEvent(ResponseEvent{Ref: s.ref, StreamID: s.id, Err: err})
	}
	c.streamFinished(s.id)
	// A request blocked on this stream's window no longer holds up
	// the queue.
	c.drainPending()
}

func (c *Conn) write(b []byte) {
	if c.closed || len(b) == 0 {
		return
	}
	if err := c.transport.Send(b); err != nil {
		c.log.Errorf("%v", err)
		c.shutdown(err)
	}
}

// shutdown is the single teardown path: fail everything in flight,
// notify the client of closure, stop the transport and the engine.
// err is nil for an orderly close.
func (c *Conn) shutdown(err error) {
	if c.closed {
		return
	}
	c.closed = true
	inFlight := err
	if inFlight == nil {
		inFlight = errConnClosed
	}
	for _, s := range c.streams {
		if s.state != stateClosed && s.ref != 0 {
			c.deliverEvent(ResponseEvent{Ref: s.ref, StreamID: s.id, Err: inFlight})
		}
		s.state = stateClosed
	}
	c.streams = make(map[uint32]*stream)
	for _, p := range c.fc.pending {
		if p.streamID == 0 {
			c.deliverEvent(ResponseEvent{Ref: p.ref, Err: inFlight})
		}
	}
	c.fc.pending = nil
	c.queue.drain(func(p *pendingRequest, qerr error) {
		c.deliverEvent(ResponseEvent{Ref: p.ref, Err: qerr})
	}, inFlight)
	c.deliverEvent(ClosedEvent{Err: err})
	c.transport.Close()
	close(c.done)
}

func (c *Conn) deliverEvent(ev Event) {
	if c.events == nil {
		return
	}
	c.events <- ev
}
