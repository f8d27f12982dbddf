package vex

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// hpackPair is the encoder/decoder worker pair serving one connection.
// HPACK dynamic-table state is per connection and per direction, so
// the pair lives exactly as long as its connection. Only the engine
// goroutine touches it; header blocks are always encoded and decoded
// in wire order.
type hpackPair struct {
	encBuf bytes.Buffer
	enc    *hpack.Encoder
	dec    *hpack.Decoder
}

func newHpackPair() *hpackPair {
	p := &hpackPair{}
	p.enc = hpack.NewEncoder(&p.encBuf)
	p.dec = hpack.NewDecoder(initialHeaderTableSize, nil)
	return p
}

// encode renders a header list as a single header block.
// The returned slice is only valid until the next encode call.
func (p *hpackPair) encode(fields []hpack.HeaderField) ([]byte, error) {
	p.encBuf.Reset()
	for _, f := range fields {
		if err := p.enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	return p.encBuf.Bytes(), nil
}

// decode parses a complete reassembled header block.
func (p *hpackPair) decode(block []byte) ([]hpack.HeaderField, error) {
	fields, err := p.dec.DecodeFull(block)
	if err != nil {
		return nil, ConnectionError(ErrCodeCompression)
	}
	return fields, nil
}

// updateEncoderTableSize applies the peer's SETTINGS_HEADER_TABLE_SIZE
// to the encoder's dynamic table.
func (p *hpackPair) updateEncoderTableSize(n uint32) {
	p.enc.SetMaxDynamicTableSize(n)
}

// updateDecoderTableSize applies our own advertised
// SETTINGS_HEADER_TABLE_SIZE to the decoder's dynamic table.
func (p *hpackPair) updateDecoderTableSize(n uint32) {
	p.dec.SetMaxDynamicTableSize(n)
}
