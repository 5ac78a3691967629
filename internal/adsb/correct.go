package adsb

import (
	"fmt"
	"strings"
)

// TwoBitMode controls when two-bit error correction is attempted
type TwoBitMode int

const (
	// TwoBitOff never attempts two-bit correction
	TwoBitOff TwoBitMode = iota
	// TwoBitDF17 attempts it for extended squitters only (dump1090 "aggressive")
	TwoBitDF17
	// TwoBitAll attempts it for every correctable format
	TwoBitAll
)

// String returns the flag spelling of the mode
func (m TwoBitMode) String() string {
	switch m {
	case TwoBitDF17:
		return "df17"
	case TwoBitAll:
		return "all"
	default:
		return "off"
	}
}

// ParseTwoBitMode parses "off", "df17" or "all"
func ParseTwoBitMode(s string) (TwoBitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return TwoBitOff, nil
	case "df17", "aggressive":
		return TwoBitDF17, nil
	case "all":
		return TwoBitAll, nil
	default:
		return TwoBitOff, fmt.Errorf("unknown two-bit mode %q", s)
	}
}

// CorrectionPolicy selects which error correction paths are enabled
type CorrectionPolicy struct {
	FixErrors bool
	TwoBit    TwoBitMode
}

// DefaultCorrectionPolicy fixes single-bit errors only
func DefaultCorrectionPolicy() CorrectionPolicy {
	return CorrectionPolicy{FixErrors: true, TwoBit: TwoBitOff}
}

func (p CorrectionPolicy) allowsTwoBit(df DownlinkFormat) bool {
	switch p.TwoBit {
	case TwoBitDF17:
		return df == DFExtendedSquitter
	case TwoBitAll:
		return df.Correctable()
	default:
		return false
	}
}

// syndrome is the difference between the computed checksum and the parity
// field. It is zero for an intact frame.
func syndrome(frame []byte, bits int) uint32 {
	return Checksum(frame, bits) ^ ParityField(frame, bits)
}

// bitSyndrome is the change in syndrome caused by flipping bit j: data bits
// move the computed checksum, parity bits move the transmitted field.
func bitSyndrome(j, bits int) uint32 {
	parityStart := bits - 24
	if j >= parityStart {
		return 1 << uint(bits-1-j)
	}
	return bitContribution(j, bits)
}

// FixSingleBitError looks for one bit whose flip makes the checksum match.
// On success the frame is repaired in place and the bit index returned.
func FixSingleBitError(frame []byte, bits int) (int, bool) {
	s := syndrome(frame, bits)
	if s == 0 {
		return -1, false
	}
	for j := 0; j < bits; j++ {
		if bitSyndrome(j, bits) == s {
			flipBit(frame, j)
			return j, true
		}
	}
	return -1, false
}

// FixTwoBitErrors tries every ordered pair (j, i>j) of bit flips and keeps
// the first that makes the checksum match. On success the frame is repaired
// in place.
func FixTwoBitErrors(frame []byte, bits int) (int, int, bool) {
	s := syndrome(frame, bits)
	if s == 0 {
		return -1, -1, false
	}
	for j := 0; j < bits; j++ {
		sj := bitSyndrome(j, bits)
		for i := j + 1; i < bits; i++ {
			if sj^bitSyndrome(i, bits) == s {
				flipBit(frame, j)
				flipBit(frame, i)
				return j, i, true
			}
		}
	}
	return -1, -1, false
}

// Correct applies the policy to a frame whose direct checksum failed. It
// returns the flipped bit indices (one or two) or ErrChecksumFailed.
func (p CorrectionPolicy) Correct(frame []byte, bits int, df DownlinkFormat) ([]int, error) {
	if !p.FixErrors || !df.Correctable() {
		return nil, fmt.Errorf("DF%d without correction path: %w", df, ErrChecksumFailed)
	}

	if j, ok := FixSingleBitError(frame, bits); ok {
		return []int{j}, nil
	}

	if p.allowsTwoBit(df) {
		if j, i, ok := FixTwoBitErrors(frame, bits); ok {
			return []int{j, i}, nil
		}
	}

	return nil, fmt.Errorf("DF%d uncorrectable: %w", df, ErrChecksumFailed)
}

// RecoverAddress computes the candidate address of an address/parity
// frame: the checksum over the data bits XOR the transmitted parity field.
func RecoverAddress(frame []byte, bits int) uint32 {
	return syndrome(frame, bits)
}
