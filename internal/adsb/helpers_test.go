package adsb

import (
	"encoding/hex"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Reference airborne position pair for ICAO 40621D at 38000 ft
const (
	evenPositionHex = "8D40621D58C382D690C8AC2863A7"
	oddPositionHex  = "8D40621D58C386435CC412692AD6"
	identHex        = "8D4840D6202CC371C32CE0576098"
	velocityHex     = "8D485020994409940838175B284F"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func toHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// sealParity writes the checksum XOR addr into the trailing 24 bits; addr
// is zero for formats that carry the plain checksum
func sealParity(frame []byte, addr uint32) []byte {
	bits := FrameDF(frame).Bits()
	n := bits / 8
	p := Checksum(frame, bits) ^ addr
	frame[n-3] = byte(p >> 16)
	frame[n-2] = byte(p >> 8)
	frame[n-1] = byte(p)
	return frame
}

// extendedSquitter builds an intact DF17 frame carrying the 7-byte ME field
func extendedSquitter(icao uint32, me [7]byte) []byte {
	frame := make([]byte, LongMsgBytes)
	frame[0] = byte(DFExtendedSquitter)<<3 | 5
	frame[1] = byte(icao >> 16)
	frame[2] = byte(icao >> 8)
	frame[3] = byte(icao)
	copy(frame[4:11], me[:])
	return sealParity(frame, 0)
}

// allCallReply builds an intact DF11 frame
func allCallReply(icao uint32) []byte {
	frame := make([]byte, ShortMsgBytes)
	frame[0] = byte(DFAllCallReply)<<3 | 5
	frame[1] = byte(icao >> 16)
	frame[2] = byte(icao >> 8)
	frame[3] = byte(icao)
	return sealParity(frame, 0)
}

// addressParity builds a short AP frame whose bytes 2-3 hold the given
// altitude or identity bits
func addressParity(df DownlinkFormat, icao uint32, b2, b3 byte) []byte {
	frame := make([]byte, df.Bits()/8)
	frame[0] = byte(df) << 3
	frame[2] = b2
	frame[3] = b3
	return sealParity(frame, icao)
}

// encodeCPR is the airborne CPR encoder, used to build synthetic frames
func encodeCPR(lat, lon float64, odd bool) (uint32, uint32) {
	i := 0.0
	if odd {
		i = 1
	}
	dlat := 360.0 / (60.0 - i)
	yz := math.Floor(CPR_LAT_MAX*(math.Mod(math.Mod(lat, dlat)+dlat, dlat)/dlat) + 0.5)
	rlat := dlat * (yz/CPR_LAT_MAX + math.Floor(lat/dlat))

	n := NL(rlat) - int(i)
	if n < 1 {
		n = 1
	}
	dlon := 360.0 / float64(n)
	xz := math.Floor(CPR_LON_MAX*(math.Mod(math.Mod(lon, dlon)+dlon, dlon)/dlon) + 0.5)

	return uint32(yz) & 0x1FFFF, uint32(xz) & 0x1FFFF
}

// positionME builds an airborne position ME field (type 11) with a 25 ft
// altitude
func positionME(altitude int, odd bool, lat, lon uint32) [7]byte {
	n := (altitude + 1000) / 25
	var me [7]byte
	me[0] = 11 << 3
	me[1] = byte(n>>4)<<1 | 1
	me[2] = byte(n&0xF) << 4
	if odd {
		me[2] |= 1 << 2
	}
	me[2] |= byte(lat>>15) & 3
	me[3] = byte(lat >> 7)
	me[4] = byte(lat<<1) | byte(lon>>16)&1
	me[5] = byte(lon >> 8)
	me[6] = byte(lon)
	return me
}

// identME packs eight charset indices into an identification ME field
func identME(tc byte, idx [8]byte) [7]byte {
	var me [7]byte
	me[0] = tc << 3
	var acc uint64
	for _, i := range idx {
		acc = acc<<6 | uint64(i&63)
	}
	for k := 0; k < 6; k++ {
		me[1+k] = byte(acc >> (8 * uint(5-k)))
	}
	return me
}
