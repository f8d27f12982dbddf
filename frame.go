package vex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const frameHeaderLen = 9

var padZeros = make([]byte, 255) // zeros for padding

// A FrameType is a registered frame type as defined in
// https://httpwg.org/specs/rfc7540.html#iana-frames
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

var frameName = map[FrameType]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameRSTStream:    "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

func (t FrameType) String() string {
	if s, ok := frameName[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
}

// Flags is a bitmask of HTTP/2 flags.
// The meaning of flags varies depending on the frame type.
type Flags uint8

// Has reports whether f contains all (0 or more) flags in v.
func (f Flags) Has(v Flags) bool {
	return (f & v) == v
}

// Frame-specific FrameHeader flag bits.
const (
	// Data Frame
	FlagDataEndStream Flags = 0x1
	FlagDataPadded    Flags = 0x8

	// Headers Frame
	FlagHeadersEndStream  Flags = 0x1
	FlagHeadersEndHeaders Flags = 0x4
	FlagHeadersPadded     Flags = 0x8
	FlagHeadersPriority   Flags = 0x20

	// Settings Frame
	FlagSettingsAck Flags = 0x1

	// Ping Frame
	FlagPingAck Flags = 0x1

	// Continuation Frame
	FlagContinuationEndHeaders Flags = 0x4

	FlagPushPromiseEndHeaders Flags = 0x4
	FlagPushPromisePadded     Flags = 0x8
)

var flagName = map[FrameType]map[Flags]string{
	FrameData: {
		FlagDataEndStream: "END_STREAM",
		FlagDataPadded:    "PADDED",
	},
	FrameHeaders: {
		FlagHeadersEndStream:  "END_STREAM",
		FlagHeadersEndHeaders: "END_HEADERS",
		FlagHeadersPadded:     "PADDED",
		FlagHeadersPriority:   "PRIORITY",
	},
	FrameSettings: {
		FlagSettingsAck: "ACK",
	},
	FramePing: {
		FlagPingAck: "ACK",
	},
	FrameContinuation: {
		FlagContinuationEndHeaders: "END_HEADERS",
	},
	FramePushPromise: {
		FlagPushPromiseEndHeaders: "END_HEADERS",
		FlagPushPromisePadded:     "PADDED",
	},
}

// a frameParser parses a frame given its FrameHeader and payload
// bytes. The length of payload always equals fh.Length (which
// might be 0).
type frameParser func(fh FrameHeader, payload []byte) (Frame, error)

var frameParsers = map[FrameType]frameParser{
	FrameData:         parseDataFrame,
	FrameHeaders:      parseHeadersFrame,
	FramePriority:     parsePriorityFrame,
	FrameRSTStream:    parseRSTStreamFrame,
	FrameSettings:     parseSettingsFrame,
	FramePushPromise:  parsePushPromise,
	FramePing:         parsePingFrame,
	FrameGoAway:       parseGoAwayFrame,
	FrameWindowUpdate: parseWindowUpdateFrame,
	FrameContinuation: parseContinuationFrame,
}

func typeFrameParser(t FrameType) frameParser {
	if f := frameParsers[t]; f != nil {
		return f
	}
	return parseUnknownFrame
}

// A FrameHeader is the 9 byte header of all HTTP/2 frames.
//
// See https://httpwg.org/specs/rfc7540.html#FrameHeader
type FrameHeader struct {
	// Type is the 1 byte frame type. There are ten standard frame
	// types; frames of an unregistered type decode as UnknownFrame
	// and are ignored by the engine.
	Type FrameType

	// Flags are the 1 byte of 8 potential bit flags per frame.
	// They are specific to the frame type.
	Flags Flags

	// Length is the length of the frame, not including the 9 byte header.
	// The maximum size is one byte less than 16MB (uint24), but only
	// frames up to 16KB are allowed without peer agreement.
	Length uint32

	// StreamID is which stream this frame is for. Certain frames
	// are not stream-specific, in which case this field is 0.
	StreamID uint32
}

// Header returns h. It exists so FrameHeaders can be embedded in other
// specific frame types and implement the Frame interface.
func (h FrameHeader) Header() FrameHeader { return h }

func (h FrameHeader) String() string {
	var buf bytes.Buffer
	buf.WriteString("[FrameHeader ")
	h.writeDebug(&buf)
	buf.WriteByte(']')
	return buf.String()
}

func (h FrameHeader) writeDebug(buf *bytes.Buffer) {
	buf.WriteString(h.Type.String())
	if h.Flags != 0 {
		buf.WriteString(" flags=")
		set := 0
		for i := uint8(0); i < 8; i++ {
			if h.Flags&(1<<i) == 0 {
				continue
			}
			set++
			if set > 1 {
				buf.WriteByte('|')
			}
			name := flagName[h.Type][Flags(1<<i)]
			if name != "" {
				buf.WriteString(name)
			} else {
				fmt.Fprintf(buf, "0x%x", 1<<i)
			}
		}
	}
	if h.StreamID != 0 {
		fmt.Fprintf(buf, " stream=%d", h.StreamID)
	}
	fmt.Fprintf(buf, " len=%d", h.Length)
}

func parseFrameHeader(buf []byte) FrameHeader {
	return FrameHeader{
		Length:   uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]),
		Type:     FrameType(buf[3]),
		Flags:    Flags(buf[4]),
		StreamID: binary.BigEndian.Uint32(buf[5:]) & (1<<31 - 1),
	}
}

// A Frame is the base interface implemented by all frame types.
// Callers will generally type-assert the specific frame type:
// *HeadersFrame, *SettingsFrame, *WindowUpdateFrame, etc.
type Frame interface {
	Header() FrameHeader
}

// readFrame decodes one frame from the front of buf. It returns the
// frame together with the unconsumed remainder of buf, so a single
// inbound chunk carrying several frames is drained by calling
// readFrame repeatedly on the remainder.
//
// When buf does not yet hold a complete frame, readFrame returns
// errFrameTooShort and the caller keeps buffering. A frame longer
// than maxReadSize is a FRAME_SIZE_ERROR. Frames of unknown type
// decode as *UnknownFrame; the dispatcher ignores them per RFC 7540
// §4.1 rather than treating them as an error.
func readFrame(buf []byte, maxReadSize uint32) (Frame, []byte, error) {
	if len(buf) < frameHeaderLen {
		return nil, buf, errFrameTooShort
	}
	fh := parseFrameHeader(buf)
	if fh.Length > maxReadSize {
		return nil, buf, connError{ErrCodeFrameSize, fmt.Sprintf("frame length %d exceeds maximum %d", fh.Length, maxReadSize)}
	}
	if uint32(len(buf)-frameHeaderLen) < fh.Length {
		return nil, buf, errFrameTooShort
	}
	payload := buf[frameHeaderLen : frameHeaderLen+fh.Length]
	rest := buf[frameHeaderLen+fh.Length:]
	f, err := typeFrameParser(fh.Type)(fh, payload)
	if err != nil {
		return nil, rest, err
	}
	return f, rest, nil
}

// A DataFrame conveys arbitrary, variable-length sequences of octets
// associated with a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.1
type DataFrame struct {
	FrameHeader
	data []byte
}

func (f *DataFrame) StreamEnded() bool {
	return f.FrameHeader.Flags.Has(FlagDataEndStream)
}

// Data returns the frame's data octets, not including any padding
// size byte or padding suffix bytes.
func (f *DataFrame) Data() []byte {
	return f.data
}

func parseDataFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID == 0 {
		// DATA frames MUST be associated with a stream. If a
		// DATA frame is received whose stream identifier
		// field is 0x0, the recipient MUST respond with a
		// connection error (Section 5.4.1) of type
		// PROTOCOL_ERROR.
		return nil, connError{ErrCodeProtocol, "DATA frame with stream ID 0"}
	}
	f := &DataFrame{FrameHeader: fh}
	var padSize byte
	if fh.Flags.Has(FlagDataPadded) {
		var err error
		payload, padSize, err = readByte(payload)
		if err != nil {
			return nil, err
		}
	}
	if int(padSize) > len(payload) {
		// If the length of the padding is greater than the
		// length of the frame payload, the recipient MUST
		// treat this as a connection error.
		return nil, connError{ErrCodeProtocol, "pad size larger than data payload"}
	}
	f.data = payload[:len(payload)-int(padSize)]
	return f, nil
}

var (
	errStreamID    = errors.New("invalid stream ID")
	errDepStreamID = errors.New("invalid dependent stream ID")
	errPadLength   = errors.New("pad length too large")
)

func validStreamIDOrZero(streamID uint32) bool {
	return streamID&(1<<31) == 0
}

func validStreamID(streamID uint32) bool {
	return streamID != 0 && streamID&(1<<31) == 0
}

// appendData appends a DATA frame to b.
//
// It is the caller's responsibility not to violate the maximum frame
// size and to establish flow control credit beforehand.
func appendData(b []byte, streamID uint32, endStream bool, data []byte) ([]byte, error) {
	return appendDataPadded(b, streamID, endStream, data, nil)
}

// appendDataPadded appends a DATA frame with an optional padding
// suffix. If pad is nil, the padding bit is not set.
func appendDataPadded(b []byte, streamID uint32, endStream bool, data, pad []byte) ([]byte, error) {
	if !validStreamID(streamID) {
		return b, errStreamID
	}
	if len(pad) > 255 {
		return b, errPadLength
	}
	var flags Flags
	if endStream {
		flags |= FlagDataEndStream
	}
	length := len(data)
	if pad != nil {
		flags |= FlagDataPadded
		length += 1 + len(pad)
	}
	b = appendFrameHeader(b, FrameData, flags, streamID, length)
	if pad != nil {
		b = append(b, byte(len(pad)))
	}
	b = append(b, data...)
	b = append(b, pad...)
	return b, nil
}

// A SettingsFrame conveys configuration parameters that affect how
// endpoints communicate, such as preferences and constraints on peer
// behavior.
// See https://httpwg.org/specs/rfc7540.html#SETTINGS
type SettingsFrame struct {
	FrameHeader
	settings []Setting
}

func parseSettingsFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.Flags.Has(FlagSettingsAck) && fh.Length > 0 {
		// When this (ACK 0x1) bit is set, the payload of the
		// SETTINGS frame MUST be empty. Receipt of a
		// SETTINGS frame with the ACK flag set and a length
		// field value other than 0 MUST be treated as a
		// connection error (Section 5.4.1) of type
		// FRAME_SIZE_ERROR.
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID != 0 {
		// SETTINGS frames always apply to a connection,
		// never a single stream. The stream identifier for a
		// SETTINGS frame MUST be zero (0x0).
		return nil, ConnectionError(ErrCodeProtocol)
	}
	if len(payload)%6 != 0 {
		// A SETTINGS frame with a length other than a
		// multiple of 6 octets MUST be treated as a
		// connection error (Section 5.4.1) of type
		// FRAME_SIZE_ERROR.
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	f := &SettingsFrame{FrameHeader: fh}
	for i := 0; i < len(payload); i += 6 {
		s := Setting{
			ID:  SettingID(binary.BigEndian.Uint16(payload[i : i+2])),
			Val: binary.BigEndian.Uint32(payload[i+2 : i+6]),
		}
		if err := s.Valid(); err != nil {
			return nil, err
		}
		f.settings = append(f.settings, s)
	}
	return f, nil
}

func (f *SettingsFrame) IsAck() bool {
	return f.FrameHeader.Flags.Has(FlagSettingsAck)
}

// Value returns the setting from the frame with the given ID, and
// reports whether the frame contained it.
func (f *SettingsFrame) Value(id SettingID) (v uint32, ok bool) {
	for _, s := range f.settings {
		if s.ID == id {
			return s.Val, true
		}
	}
	return 0, false
}

// ForeachSetting calls fn for each setting in f, stopping at the
// first error.
func (f *SettingsFrame) ForeachSetting(fn func(Setting) error) error {
	for _, s := range f.settings {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// appendSettings appends a SETTINGS frame with zero or more settings
// specified and the ACK bit not set.
func appendSettings(b []byte, settings ...Setting) []byte {
	b = appendFrameHeader(b, FrameSettings, 0, 0, len(settings)*6)
	for _, s := range settings {
		b = appendUint16(b, uint16(s.ID))
		b = appendUint32(b, s.Val)
	}
	return b
}

// appendSettingsAck appends an empty SETTINGS frame with the ACK bit set.
func appendSettingsAck(b []byte) []byte {
	return appendFrameHeader(b, FrameSettings, FlagSettingsAck, 0, 0)
}

// A PingFrame is a mechanism for measuring a minimal round trip time
// from the sender, as well as determining whether an idle connection
// is still functional.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.7
type PingFrame struct {
	FrameHeader
	Data [8]byte
}

func (f *PingFrame) IsAck() bool { return f.Flags.Has(FlagPingAck) }

func parsePingFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if len(payload) != 8 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID != 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f := &PingFrame{FrameHeader: fh}
	copy(f.Data[:], payload)
	return f, nil
}

func appendPing(b []byte, ack bool, data [8]byte) []byte {
	var flags Flags
	if ack {
		flags = FlagPingAck
	}
	b = appendFrameHeader(b, FramePing, flags, 0, 8)
	return append(b, data[:]...)
}

// A GoAwayFrame informs the remote peer to stop creating streams on
// this connection.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.8
type GoAwayFrame struct {
	FrameHeader
	LastStreamID uint32
	ErrCode      ErrCode
	debugData    []byte
}

// DebugData returns any debug data in the GOAWAY frame. Its contents
// are not defined.
func (f *GoAwayFrame) DebugData() []byte {
	return f.debugData
}

func parseGoAwayFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID != 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	if len(payload) < 8 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	return &GoAwayFrame{
		FrameHeader:  fh,
		LastStreamID: binary.BigEndian.Uint32(payload[:4]) & (1<<31 - 1),
		ErrCode:      ErrCode(binary.BigEndian.Uint32(payload[4:8])),
		debugData:    payload[8:],
	}, nil
}

func appendGoAway(b []byte, maxStreamID uint32, code ErrCode, debugData []byte) ([]byte, error) {
	if !validStreamIDOrZero(maxStreamID) {
		return b, errStreamID
	}
	b = appendFrameHeader(b, FrameGoAway, 0, 0, 8+len(debugData))
	b = appendUint32(b, maxStreamID&(1<<31-1))
	b = appendUint32(b, uint32(code))
	b = append(b, debugData...)
	return b, nil
}

// An UnknownFrame is the frame type returned when decoding an
// unregistered frame type. Receivers ignore these.
type UnknownFrame struct {
	FrameHeader
	payload []byte
}

// Payload returns the frame's payload (after the header). It is not
// valid to call this method after a subsequent call to readFrame.
func (f *UnknownFrame) Payload() []byte {
	return f.payload
}

func parseUnknownFrame(fh FrameHeader, payload []byte) (Frame, error) {
	return &UnknownFrame{fh, payload}, nil
}

// A WindowUpdateFrame is used to implement flow control.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.9
type WindowUpdateFrame struct {
	FrameHeader
	Increment uint32 // never read with high bit set
}

func parseWindowUpdateFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	inc := binary.BigEndian.Uint32(payload[:4]) & 0x7fffffff // mask off high reserved bit
	if inc == 0 {
		// A receiver MUST treat the receipt of a
		// WINDOW_UPDATE frame with a flow control window
		// increment of 0 as a stream error (Section 5.4.2) of
		// type PROTOCOL_ERROR; errors on the connection flow
		// control window MUST be treated as a connection
		// error (Section 5.4.1).
		if fh.StreamID == 0 {
			return nil, ConnectionError(ErrCodeProtocol)
		}
		return nil, streamError(fh.StreamID, ErrCodeProtocol)
	}
	return &WindowUpdateFrame{
		FrameHeader: fh,
		Increment:   inc,
	}, nil
}

// appendWindowUpdate appends a WINDOW_UPDATE frame.
// The increment value must be between 1 and 2,147,483,647, inclusive.
func appendWindowUpdate(b []byte, streamID, incr uint32) ([]byte, error) {
	// "The legal range for the increment to the flow control
	// window is 1 to 2^31-1 (2,147,483,647) octets."
	if (incr < 1 || incr > 2147483647) || !validStreamIDOrZero(streamID) {
		return b, errors.New("illegal window increment value")
	}
	b = appendFrameHeader(b, FrameWindowUpdate, 0, streamID, 4)
	return appendUint32(b, incr), nil
}

// A HeadersFrame is used to open a stream and additionally carries a
// header block fragment.
type HeadersFrame struct {
	FrameHeader

	// Priority is set if FlagHeadersPriority is set in the FrameHeader.
	Priority PriorityParam

	headerFragment []byte
}

func (f *HeadersFrame) HeaderBlockFragment() []byte {
	return f.headerFragment
}

func (f *HeadersFrame) HeadersEnded() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersEndHeaders)
}

func (f *HeadersFrame) StreamEnded() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersEndStream)
}

func (f *HeadersFrame) HasPriority() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersPriority)
}

func parseHeadersFrame(fh FrameHeader, p []byte) (Frame, error) {
	hf := &HeadersFrame{
		FrameHeader: fh,
	}
	if fh.StreamID == 0 {
		// HEADERS frames MUST be associated with a stream. If a HEADERS frame
		// is received whose stream identifier field is 0x0, the recipient MUST
		// respond with a connection error (Section 5.4.1) of type
		// PROTOCOL_ERROR.
		return nil, connError{ErrCodeProtocol, "HEADERS frame with stream ID 0"}
	}
	var padLength uint8
	if fh.Flags.Has(FlagHeadersPadded) {
		var err error
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	if fh.Flags.Has(FlagHeadersPriority) {
		var v uint32
		var err error
		p, v, err = readUint32(p)
		if err != nil {
			return nil, err
		}
		hf.Priority.StreamDep = v & 0x7fffffff
		hf.Priority.Exclusive = v != hf.Priority.StreamDep // high bit was set
		p, hf.Priority.Weight, err = readByte(p)
		if err != nil {
			return nil, err
		}
	}
	if len(p)-int(padLength) < 0 {
		return nil, streamError(fh.StreamID, ErrCodeProtocol)
	}
	hf.headerFragment = p[:len(p)-int(padLength)]
	return hf, nil
}

// HeadersFrameParam are the parameters for appending a HEADERS frame.
type HeadersFrameParam struct {
	// StreamID is the required Stream ID to initiate.
	StreamID uint32
	// BlockFragment is part (or all) of a Header Block.
	BlockFragment []byte

	// EndStream indicates that the header block is the last that
	// the endpoint will send for the identified stream. Setting
	// this flag causes the stream to enter one of "half closed"
	// states.
	EndStream bool

	// EndHeaders indicates that this frame contains an entire
	// header block and is not followed by any
	// CONTINUATION frames.
	EndHeaders bool

	// PadLength is the optional number of bytes of zeros to add
	// to this frame.
	PadLength uint8

	// Priority, if non-zero, includes stream priority information
	// in the HEADER frame.
	Priority PriorityParam
}

// appendHeaders appends a single HEADERS frame.
//
// Splitting an oversized header block into HEADERS + CONTINUATION
// frames is the caller's job; the fragment here must fit the peer's
// maximum frame size.
func appendHeaders(b []byte, p HeadersFrameParam) ([]byte, error) {
	if !validStreamID(p.StreamID) {
		return b, errStreamID
	}
	var flags Flags
	if p.PadLength != 0 {
		flags |= FlagHeadersPadded
	}
	if p.EndStream {
		flags |= FlagHeadersEndStream
	}
	if p.EndHeaders {
		flags |= FlagHeadersEndHeaders
	}
	if !p.Priority.IsZero() {
		flags |= FlagHeadersPriority
	}
	length := len(p.BlockFragment)
	if p.PadLength != 0 {
		length += 1 + int(p.PadLength)
	}
	if !p.Priority.IsZero() {
		length += 5
	}
	b = appendFrameHeader(b, FrameHeaders, flags, p.StreamID, length)
	if p.PadLength != 0 {
		b = append(b, p.PadLength)
	}
	if !p.Priority.IsZero() {
		v := p.Priority.StreamDep
		if !validStreamIDOrZero(v) {
			return b, errDepStreamID
		}
		if p.Priority.Exclusive {
			v |= 1 << 31
		}
		b = appendUint32(b, v)
		b = append(b, p.Priority.Weight)
	}
	b = append(b, p.BlockFragment...)
	b = append(b, padZeros[:p.PadLength]...)
	return b, nil
}

// A PriorityFrame specifies the sender-advised priority of a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.3
type PriorityFrame struct {
	FrameHeader
	PriorityParam
}

// PriorityParam are the stream prioritzation parameters.
type PriorityParam struct {
	// StreamDep is a 31-bit stream identifier for the
	// stream that this stream depends on. Zero means no
	// dependency.
	StreamDep uint32

	// Exclusive is whether the dependency is exclusive.
	Exclusive bool

	// Weight is the stream's zero-indexed weight. It should be
	// set together with StreamDep, or neither should be set. Per
	// the spec, "Add one to the value to obtain a weight between
	// 1 and 256."
	Weight uint8
}

func (p PriorityParam) IsZero() bool {
	return p == PriorityParam{}
}

func parsePriorityFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, connError{ErrCodeProtocol, "PRIORITY frame with stream ID 0"}
	}
	if len(payload) != 5 {
		return nil, connError{ErrCodeFrameSize, fmt.Sprintf("PRIORITY frame payload size was %d; want 5", len(payload))}
	}
	v := binary.BigEndian.Uint32(payload[:4])
	streamID := v & 0x7fffffff // mask off high bit
	return &PriorityFrame{
		FrameHeader: fh,
		PriorityParam: PriorityParam{
			Weight:    payload[4],
			StreamDep: streamID,
			Exclusive: streamID != v, // was high bit set?
		},
	}, nil
}

// appendPriority appends a PRIORITY frame.
func appendPriority(b []byte, streamID uint32, p PriorityParam) ([]byte, error) {
	if !validStreamID(streamID) {
		return b, errStreamID
	}
	if !validStreamIDOrZero(p.StreamDep) {
		return b, errDepStreamID
	}
	b = appendFrameHeader(b, FramePriority, 0, streamID, 5)
	v := p.StreamDep
	if p.Exclusive {
		v |= 1 << 31
	}
	b = appendUint32(b, v)
	return append(b, p.Weight), nil
}

// A RSTStreamFrame allows for abnormal termination of a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.4
type RSTStreamFrame struct {
	FrameHeader
	ErrCode ErrCode
}

func parseRSTStreamFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID == 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	return &RSTStreamFrame{fh, ErrCode(binary.BigEndian.Uint32(payload[:4]))}, nil
}

// appendRSTStream appends a RST_STREAM frame.
func appendRSTStream(b []byte, streamID uint32, code ErrCode) ([]byte, error) {
	if !validStreamID(streamID) {
		return b, errStreamID
	}
	b = appendFrameHeader(b, FrameRSTStream, 0, streamID, 4)
	return appendUint32(b, uint32(code)), nil
}

// A ContinuationFrame is used to continue a sequence of header block
// fragments.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.10
type ContinuationFrame struct {
	FrameHeader
	headerFragment []byte
}

func parseContinuationFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, connError{ErrCodeProtocol, "CONTINUATION frame with stream ID 0"}
	}
	return &ContinuationFrame{fh, payload}, nil
}

func (f *ContinuationFrame) HeaderBlockFragment() []byte {
	return f.headerFragment
}

func (f *ContinuationFrame) HeadersEnded() bool {
	return f.FrameHeader.Flags.Has(FlagContinuationEndHeaders)
}

// appendContinuation appends a CONTINUATION frame.
func appendContinuation(b []byte, streamID uint32, endHeaders bool, headerBlockFragment []byte) ([]byte, error) {
	if !validStreamID(streamID) {
		return b, errStreamID
	}
	var flags Flags
	if endHeaders {
		flags |= FlagContinuationEndHeaders
	}
	b = appendFrameHeader(b, FrameContinuation, flags, streamID, len(headerBlockFragment))
	return append(b, headerBlockFragment...), nil
}

// A PushPromiseFrame is used to initiate a server stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.6
type PushPromiseFrame struct {
	FrameHeader
	PromiseID      uint32
	headerFragment []byte
}

func (f *PushPromiseFrame) HeaderBlockFragment() []byte {
	return f.headerFragment
}

func (f *PushPromiseFrame) HeadersEnded() bool {
	return f.FrameHeader.Flags.Has(FlagPushPromiseEndHeaders)
}

func parsePushPromise(fh FrameHeader, p []byte) (Frame, error) {
	pp := &PushPromiseFrame{
		FrameHeader: fh,
	}
	if pp.StreamID == 0 {
		// PUSH_PROMISE frames MUST be associated with an existing,
		// peer-initiated stream. The stream identifier of a
		// PUSH_PROMISE frame indicates the stream it is associated with.
		// If the stream identifier field specifies the value
		// 0x0, a recipient MUST respond with a connection error
		// (Section 5.4.1) of type PROTOCOL_ERROR.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	// The PUSH_PROMISE frame includes optional padding.
	// Padding fields and flags are identical to those defined for DATA frames
	var padLength uint8
	if fh.Flags.Has(FlagPushPromisePadded) {
		var err error
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	p, promiseID, err := readUint32(p)
	if err != nil {
		return nil, err
	}
	pp.PromiseID = promiseID & (1<<31 - 1)
	if int(padLength) > len(p) {
		// like the DATA frame, error out if padding is longer than the body.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	pp.headerFragment = p[:len(p)-int(padLength)]
	return pp, nil
}

// PushPromiseParam are the parameters for appending a PUSH_PROMISE frame.
type PushPromiseParam struct {
	// StreamID is the required Stream ID to initiate.
	StreamID uint32

	// PromiseID is the required Stream ID which this
	// Push Promises
	PromiseID uint32

	// BlockFragment is part (or all) of a Header Block.
	BlockFragment []byte

	// EndHeaders indicates that this frame contains an entire
	// header block and is not followed by any
	// CONTINUATION frames.
	EndHeaders bool

	// PadLength is the optional number of bytes of zeros to add
	// to this frame.
	PadLength uint8
}

// appendPushPromise appends a PUSH_PROMISE frame. A client never
// sends one; this exists so the codec round-trips every frame type,
// which the deframer tests rely on.
func appendPushPromise(b []byte, p PushPromiseParam) ([]byte, error) {
	if !validStreamID(p.StreamID) || !validStreamID(p.PromiseID) {
		return b, errStreamID
	}
	var flags Flags
	if p.PadLength != 0 {
		flags |= FlagPushPromisePadded
	}
	if p.EndHeaders {
		flags |= FlagPushPromiseEndHeaders
	}
	length := 4 + len(p.BlockFragment)
	if p.PadLength != 0 {
		length += 1 + int(p.PadLength)
	}
	b = appendFrameHeader(b, FramePushPromise, flags, p.StreamID, length)
	if p.PadLength != 0 {
		b = append(b, p.PadLength)
	}
	b = appendUint32(b, p.PromiseID)
	b = append(b, p.BlockFragment...)
	b = append(b, padZeros[:p.PadLength]...)
	return b, nil
}

func appendFrameHeader(b []byte, ftype FrameType, flags Flags, streamID uint32, length int) []byte {
	return append(b,
		byte(length>>16),
		byte(length>>8),
		byte(length),
		byte(ftype),
		byte(flags),
		byte(streamID>>24),
		byte(streamID>>16),
		byte(streamID>>8),
		byte(streamID))
}

func appendUint16(b []byte, v uint16) []byte { return append(b, byte(v>>8), byte(v)) }

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readByte(p []byte) (remain []byte, b byte, err error) {
	if len(p) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[1:], p[0], nil
}

func readUint32(p []byte) (remain []byte, v uint32, err error) {
	if len(p) < 4 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[4:], binary.BigEndian.Uint32(p[:4]), nil
}

// summarizeFrame renders a one-line description of f for logging.
func summarizeFrame(f Frame) string {
	var buf bytes.Buffer
	f.Header().writeDebug(&buf)
	switch f := f.(type) {
	case *SettingsFrame:
		n := 0
		f.ForeachSetting(func(s Setting) error {
			n++
			if n == 1 {
				buf.WriteString(", settings:")
			}
			fmt.Fprintf(&buf, " %v=%v,", s.ID, s.Val)
			return nil
		})
		if n > 0 {
			buf.Truncate(buf.Len() - 1) // remove trailing comma
		}
	case *DataFrame:
		data := f.Data()
		const max = 256
		if len(data) > max {
			data = data[:max]
		}
		fmt.Fprintf(&buf, " data=%q", data)
		if len(f.Data()) > max {
			fmt.Fprintf(&buf, " (%d bytes omitted)", len(f.Data())-max)
		}
	case *WindowUpdateFrame:
		if f.StreamID == 0 {
			buf.WriteString(" (conn)")
		}
		fmt.Fprintf(&buf, " incr=%v", f.Increment)
	case *PingFrame:
		fmt.Fprintf(&buf, " ping=%q", f.Data[:])
	case *GoAwayFrame:
		fmt.Fprintf(&buf, " laststream=%v errcode=%v debug=%q",
			f.LastStreamID, f.ErrCode, f.debugData)
	case *RSTStreamFrame:
		fmt.Fprintf(&buf, " errcode=%v", f.ErrCode)
	}
	return buf.String()
}
