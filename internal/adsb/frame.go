package adsb

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DownlinkFormat is the 5-bit DF code at the start of every Mode S frame
type DownlinkFormat uint8

// Downlink formats handled by the decoder
const (
	DFShortAirAir          DownlinkFormat = 0
	DFSurveillanceAltitude DownlinkFormat = 4
	DFSurveillanceIdentity DownlinkFormat = 5
	DFAllCallReply         DownlinkFormat = 11
	DFLongAirAir           DownlinkFormat = 16
	DFExtendedSquitter     DownlinkFormat = 17
	DFExtendedSquitterTISB DownlinkFormat = 18
	DFMilitaryExtended     DownlinkFormat = 19
	DFCommBAltitude        DownlinkFormat = 20
	DFCommBIdentity        DownlinkFormat = 21
	DFCommD                DownlinkFormat = 24
)

// String returns a short human readable name for the format
func (df DownlinkFormat) String() string {
	switch df {
	case DFShortAirAir:
		return "short-air-air"
	case DFSurveillanceAltitude:
		return "surveillance-altitude"
	case DFSurveillanceIdentity:
		return "surveillance-identity"
	case DFAllCallReply:
		return "all-call-reply"
	case DFLongAirAir:
		return "long-air-air"
	case DFExtendedSquitter:
		return "extended-squitter"
	case DFExtendedSquitterTISB:
		return "extended-squitter-non-transponder"
	case DFMilitaryExtended:
		return "military-extended-squitter"
	case DFCommBAltitude:
		return "comm-b-altitude"
	case DFCommBIdentity:
		return "comm-b-identity"
	case DFCommD:
		return "comm-d"
	default:
		return fmt.Sprintf("df%d", uint8(df))
	}
}

// Known reports whether the format is one the decoder understands
func (df DownlinkFormat) Known() bool {
	switch df {
	case DFShortAirAir, DFSurveillanceAltitude, DFSurveillanceIdentity, DFAllCallReply,
		DFLongAirAir, DFExtendedSquitter, DFExtendedSquitterTISB, DFMilitaryExtended,
		DFCommBAltitude, DFCommBIdentity, DFCommD:
		return true
	default:
		return false
	}
}

// Bits returns the frame length in bits for this format
func (df DownlinkFormat) Bits() int {
	switch df {
	case DFLongAirAir, DFExtendedSquitter, DFMilitaryExtended, DFCommBAltitude, DFCommBIdentity:
		return LongMsgBits
	default:
		return ShortMsgBits
	}
}

// AddressParity reports whether the trailing 24 bits carry checksum XOR address
func (df DownlinkFormat) AddressParity() bool {
	switch df {
	case DFShortAirAir, DFSurveillanceAltitude, DFSurveillanceIdentity,
		DFLongAirAir, DFCommBAltitude, DFCommBIdentity, DFCommD:
		return true
	default:
		return false
	}
}

// Correctable reports whether bit-flip correction may be attempted
func (df DownlinkFormat) Correctable() bool {
	return df == DFAllCallReply || df == DFExtendedSquitter
}

// FrameDF extracts the downlink format from the first byte of a frame
func FrameDF(frame []byte) DownlinkFormat {
	if len(frame) == 0 {
		return 0
	}
	return DownlinkFormat(frame[0] >> 3)
}

// ParseHex turns a feed line into frame bytes. Delimiters (such as the
// "*...;" AVR wrapping) and any other non-hex characters are dropped first.
func ParseHex(line string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		default:
			return -1
		}
	}, line)

	if len(cleaned) == 0 {
		return nil, fmt.Errorf("empty line: %w", ErrMalformedFrame)
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("odd hex length %d: %w", len(cleaned), ErrMalformedFrame)
	}

	frame, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedFrame)
	}
	return frame, nil
}

// checkLength makes sure the frame holds at least as many bytes as its
// downlink format requires and returns the bit length.
func checkLength(frame []byte) (int, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("empty frame: %w", ErrMalformedFrame)
	}
	bits := FrameDF(frame).Bits()
	if len(frame) < bits/8 {
		return 0, fmt.Errorf("frame has %d bytes, DF%d needs %d: %w",
			len(frame), FrameDF(frame), bits/8, ErrMalformedFrame)
	}
	return bits, nil
}
