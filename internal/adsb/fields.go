package adsb

import (
	"math"
	"strings"
)

// AltitudeUnit is the unit flagged by the M bit of an altitude field
type AltitudeUnit int

const (
	UnitFeet AltitudeUnit = iota
	UnitMeters
)

// String returns "ft" or "m"
func (u AltitudeUnit) String() string {
	if u == UnitMeters {
		return "m"
	}
	return "ft"
}

// Velocity holds the airborne velocity fields of an ME type 19 message
type Velocity struct {
	Subtype uint8

	EWDir      uint8
	EWVelocity int
	NSDir      uint8
	NSVelocity int

	// Speed is the ground speed in knots. Heading is atan2(ns, ew) in
	// degrees for subtypes 1 and 2, the transmitted heading for 3 and 4.
	// Track is the same direction measured clockwise from north.
	Speed        float64
	Heading      float64
	Track        float64
	HeadingValid bool

	VertRateSource uint8
	VertRateSign   uint8
	VertRateRaw    int
	// VerticalRate in feet per minute, positive when climbing
	VerticalRate int
}

// RawCPR is an undecoded CPR position as carried by an airborne position message
type RawCPR struct {
	Odd  bool
	Lat  uint32
	Lon  uint32
	Time bool
}

// Parity returns 1 for odd frames and 0 for even ones
func (r RawCPR) Parity() int {
	if r.Odd {
		return 1
	}
	return 0
}

// DecodeAC13 decodes the 13-bit altitude of DF0/4/16/20. Only 25 ft
// (Q bit set) encoding is decoded; valid is false for every other encoding
// and the altitude is then 0.
func DecodeAC13(msg []byte) (alt int, unit AltitudeUnit, valid bool) {
	mBit := msg[3] & (1 << 6)
	qBit := msg[3] & (1 << 4)

	if mBit != 0 {
		return 0, UnitMeters, false
	}
	if qBit == 0 {
		return 0, UnitFeet, false
	}

	n := int(msg[2]&31)<<6 |
		int(msg[3]&0x80)>>2 |
		int(msg[3]&0x20)>>1 |
		int(msg[3]&15)
	return n*25 - 1000, UnitFeet, true
}

// DecodeAC12 decodes the 12-bit altitude of an airborne position message
func DecodeAC12(msg []byte) (alt int, unit AltitudeUnit, valid bool) {
	if msg[5]&1 == 0 {
		return 0, UnitFeet, false
	}
	n := int(msg[5]>>1)<<4 | int(msg[6]&0xF0)>>4
	return n*25 - 1000, UnitFeet, true
}

// DecodeSquawk reassembles the interleaved identity bits of DF5/21 into the
// four octal digits ABCD and returns them as a decimal-looking number
func DecodeSquawk(msg []byte) int {
	a := int(msg[3]&0x80)>>5 | int(msg[2]&0x02) | int(msg[2]&0x08)>>3
	b := int(msg[3]&0x02)<<1 | int(msg[3]&0x08)>>2 | int(msg[3]&0x20)>>5
	c := int(msg[2]&0x01)<<2 | int(msg[2]&0x04)>>1 | int(msg[2]&0x10)>>4
	d := int(msg[3]&0x01)<<2 | int(msg[3]&0x04)>>1 | int(msg[3]&0x10)>>4
	return a*1000 + b*100 + c*10 + d
}

// DecodeCallsign returns the eight raw characters of an identification
// message, padding symbols included
func DecodeCallsign(msg []byte) string {
	idx := [8]byte{
		msg[5] >> 2,
		(msg[5]&3)<<4 | msg[6]>>4,
		(msg[6]&15)<<2 | msg[7]>>6,
		msg[7] & 63,
		msg[8] >> 2,
		(msg[8]&3)<<4 | msg[9]>>4,
		(msg[9]&15)<<2 | msg[10]>>6,
		msg[10] & 63,
	}

	var sb strings.Builder
	sb.Grow(len(idx))
	for _, i := range idx {
		sb.WriteByte(AISCharset[i])
	}
	return sb.String()
}

// TrimCallsign removes padding: '#' and NUL anywhere, '_' and spaces at the ends
func TrimCallsign(raw string) string {
	s := strings.Map(func(r rune) rune {
		if r == '#' || r == 0 {
			return -1
		}
		return r
	}, raw)
	return strings.Trim(s, "_ ")
}

// DecodeVelocity decodes an airborne velocity message (ME type 19,
// subtypes 1 to 4)
func DecodeVelocity(msg []byte) Velocity {
	v := Velocity{Subtype: msg[4] & 7}

	switch v.Subtype {
	case 1, 2:
		v.EWDir = (msg[5] & 4) >> 2
		v.EWVelocity = int(msg[5]&3)<<8 | int(msg[6])
		v.NSDir = (msg[7] & 0x80) >> 7
		v.NSVelocity = int(msg[7]&0x7f)<<3 | int(msg[8]&0xe0)>>5
		v.VertRateSource = (msg[8] & 0x10) >> 4
		v.VertRateSign = (msg[8] & 0x8) >> 3
		v.VertRateRaw = int(msg[8]&7)<<6 | int(msg[9]&0xfc)>>2

		v.Speed = math.Sqrt(float64(v.NSVelocity*v.NSVelocity + v.EWVelocity*v.EWVelocity))
		if v.Speed != 0 {
			ew := float64(v.EWVelocity)
			ns := float64(v.NSVelocity)
			if v.EWDir != 0 {
				ew = -ew
			}
			if v.NSDir != 0 {
				ns = -ns
			}
			v.Heading = normalizeDegrees(math.Atan2(ns, ew) * 180 / math.Pi)
			v.Track = normalizeDegrees(math.Atan2(ew, ns) * 180 / math.Pi)
			v.HeadingValid = true
		}

		if v.VertRateRaw != 0 {
			v.VerticalRate = (v.VertRateRaw - 1) * 64
			if v.VertRateSign != 0 {
				v.VerticalRate = -v.VerticalRate
			}
		}

	case 3, 4:
		v.HeadingValid = msg[5]&(1<<2) != 0
		if v.HeadingValid {
			v.Heading = 360.0 / 128.0 * float64(int(msg[5]&3)<<5|int(msg[6]>>3))
			v.Track = v.Heading
		}
	}

	return v
}

// normalizeDegrees maps an angle in degrees onto [0,360)
func normalizeDegrees(deg float64) float64 {
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// DecodeRawCPR extracts the parity flag and the 17-bit CPR latitude and
// longitude counts of an airborne position message
func DecodeRawCPR(msg []byte) RawCPR {
	return RawCPR{
		Odd:  msg[6]&(1<<2) != 0,
		Time: msg[6]&(1<<3) != 0,
		Lat:  (uint32(msg[6]&3)<<15 | uint32(msg[7])<<7 | uint32(msg[8])>>1) & (1<<CPR_LAT_BITS - 1),
		Lon:  (uint32(msg[8]&1)<<16 | uint32(msg[9])<<8 | uint32(msg[10])) & (1<<CPR_LON_BITS - 1),
	}
}
