package vex

import (
	"fmt"
	"math"
)

// A SettingID is an HTTP/2 setting as defined in
// https://httpwg.org/specs/rfc7540.html#iana-settings
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

var settingName = map[SettingID]string{
	SettingHeaderTableSize:      "HEADER_TABLE_SIZE",
	SettingEnablePush:           "ENABLE_PUSH",
	SettingMaxConcurrentStreams: "MAX_CONCURRENT_STREAMS",
	SettingInitialWindowSize:    "INITIAL_WINDOW_SIZE",
	SettingMaxFrameSize:         "MAX_FRAME_SIZE",
	SettingMaxHeaderListSize:    "MAX_HEADER_LIST_SIZE",
}

func (s SettingID) String() string {
	if v, ok := settingName[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN_SETTING_%d", uint16(s))
}

// Setting is a setting parameter: which setting it is, and its value.
type Setting struct {
	ID  SettingID
	Val uint32
}

func (s Setting) String() string {
	return fmt.Sprintf("[%v = %d]", s.ID, s.Val)
}

// Valid reports whether the setting is valid.
func (s Setting) Valid() error {
	switch s.ID {
	case SettingEnablePush:
		if s.Val != 1 && s.Val != 0 {
			return ConnectionError(ErrCodeProtocol)
		}
	case SettingInitialWindowSize:
		if s.Val > 1<<31-1 {
			return ConnectionError(ErrCodeFlowControl)
		}
	case SettingMaxFrameSize:
		if s.Val < 16384 || s.Val > 1<<24-1 {
			return ConnectionError(ErrCodeProtocol)
		}
	}
	return nil
}

const (
	initialHeaderTableSize = 4096
	initialWindowSize      = 65535 // 6.9.2 Initial Flow Control Window Size
	initialMaxFrameSize    = 16384

	// noLimit marks a setting the peer has not bounded
	// (MAX_CONCURRENT_STREAMS, MAX_HEADER_LIST_SIZE).
	noLimit = math.MaxUint32

	// unboundedStreamDemand is the queue demand granted when the peer
	// declares no stream limit. A finite proxy large enough to never
	// bound behavior.
	unboundedStreamDemand = 2_000_000_000
)

// Settings is a snapshot of one endpoint's effective HTTP/2 settings.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32 // noLimit if the endpoint declared none
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // noLimit if the endpoint declared none
}

// defaultSettings are the values every endpoint assumes until the
// peer's first SETTINGS frame arrives (RFC 7540 §6.5.2).
func defaultSettings() Settings {
	return Settings{
		HeaderTableSize:      initialHeaderTableSize,
		EnablePush:           true,
		MaxConcurrentStreams: noLimit,
		InitialWindowSize:    initialWindowSize,
		MaxFrameSize:         initialMaxFrameSize,
		MaxHeaderListSize:    noLimit,
	}
}

// apply folds a list of setting parameters into the snapshot,
// validating each. Unknown setting ids are ignored per RFC 7540 §6.5.2.
func (s *Settings) apply(settings []Setting) error {
	for _, st := range settings {
		if err := st.Valid(); err != nil {
			return err
		}
		switch st.ID {
		case SettingHeaderTableSize:
			s.HeaderTableSize = st.Val
		case SettingEnablePush:
			s.EnablePush = st.Val == 1
		case SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = st.Val
		case SettingInitialWindowSize:
			s.InitialWindowSize = st.Val
		case SettingMaxFrameSize:
			s.MaxFrameSize = st.Val
		case SettingMaxHeaderListSize:
			s.MaxHeaderListSize = st.Val
		}
	}
	return nil
}

// list renders the snapshot as wire setting parameters, skipping
// values that match the protocol defaults. Used when sending our own
// SETTINGS frame.
func (s Settings) list() []Setting {
	var out []Setting
	if s.HeaderTableSize != initialHeaderTableSize {
		out = append(out, Setting{SettingHeaderTableSize, s.HeaderTableSize})
	}
	if !s.EnablePush {
		out = append(out, Setting{SettingEnablePush, 0})
	}
	if s.MaxConcurrentStreams != noLimit {
		out = append(out, Setting{SettingMaxConcurrentStreams, s.MaxConcurrentStreams})
	}
	if s.InitialWindowSize != initialWindowSize {
		out = append(out, Setting{SettingInitialWindowSize, s.InitialWindowSize})
	}
	if s.MaxFrameSize != initialMaxFrameSize {
		out = append(out, Setting{SettingMaxFrameSize, s.MaxFrameSize})
	}
	if s.MaxHeaderListSize != noLimit {
		out = append(out, Setting{SettingMaxHeaderListSize, s.MaxHeaderListSize})
	}
	return out
}
