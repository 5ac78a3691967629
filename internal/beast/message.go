package beast

import (
	"time"

	"modesfeed/internal/adsb"
)

// Beast frame types
const (
	SyncByte   = 0x1A // Frame start, doubled inside a frame to escape it
	ModeAC     = 0x31 // Mode A/C
	ModeS      = 0x32 // Mode S Short (56 bits)
	ModeSLong  = 0x33 // Mode S Long (112 bits)
	ModeStatus = 0x34 // Receiver status
)

// headerLen is the 48-bit MLAT counter plus the signal byte
const headerLen = 7

// Message is one unescaped Beast frame
type Message struct {
	Type byte
	// MLAT is the receiver's 12 MHz timestamp counter
	MLAT     uint64
	Signal   byte
	Data     []byte
	Received time.Time
}

// payloadLength returns the number of data bytes carried by a frame type,
// or 0 for unknown types
func payloadLength(frameType byte) int {
	switch frameType {
	case ModeAC, ModeStatus:
		return 2
	case ModeS:
		return adsb.ShortMsgBytes
	case ModeSLong:
		return adsb.LongMsgBytes
	default:
		return 0
	}
}

// IsModeS reports whether the frame carries a Mode S reply
func (m *Message) IsModeS() bool {
	return m.Type == ModeS || m.Type == ModeSLong
}

// IsValid reports whether Data has the length its type requires
func (m *Message) IsValid() bool {
	n := payloadLength(m.Type)
	return n != 0 && len(m.Data) == n
}

// Format returns the downlink format of a Mode S frame
func (m *Message) Format() adsb.DownlinkFormat {
	return adsb.FrameDF(m.Data)
}

// Encode builds the escaped wire form of a frame
func Encode(frameType byte, mlat uint64, signal byte, data []byte) []byte {
	body := make([]byte, 0, headerLen+len(data))
	for shift := 40; shift >= 0; shift -= 8 {
		body = append(body, byte(mlat>>uint(shift)))
	}
	body = append(body, signal)
	body = append(body, data...)

	out := make([]byte, 0, 2+2*len(body))
	out = append(out, SyncByte, frameType)
	for _, b := range body {
		if b == SyncByte {
			out = append(out, SyncByte)
		}
		out = append(out, b)
	}
	return out
}
