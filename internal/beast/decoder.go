package beast

import (
	"bytes"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// initialBufferSize is the starting capacity of the stream buffer
const initialBufferSize = 4096

type frameStatus int

const (
	frameComplete frameStatus = iota
	frameIncomplete
	frameBroken
)

// Decoder splits a Beast byte stream into frames. Input may arrive in
// arbitrary chunks; a partial frame is kept until the rest arrives.
// Decoder is not safe for concurrent use.
type Decoder struct {
	logger  *logrus.Logger
	backing []byte
	buffer  []byte
	now     func() time.Time

	frames  uint64
	resyncs uint64
}

// NewDecoder creates a new Beast decoder
func NewDecoder(logger *logrus.Logger) *Decoder {
	backing := make([]byte, 0, initialBufferSize)
	return &Decoder{
		logger:  logger,
		backing: backing,
		buffer:  backing,
		now:     time.Now,
	}
}

// Decode appends data to the stream and returns every frame completed by it
func (d *Decoder) Decode(data []byte) []*Message {
	d.buffer = append(d.buffer, data...)

	var messages []*Message
	for {
		start := bytes.IndexByte(d.buffer, SyncByte)
		if start < 0 {
			d.buffer = d.buffer[:0]
			break
		}
		if start > 0 {
			d.resync(start, "garbage before sync")
		}
		if len(d.buffer) < 2 {
			break
		}

		frameType := d.buffer[1]
		n := payloadLength(frameType)
		if n == 0 {
			d.logger.WithField("frame_type", fmt.Sprintf("0x%02x", frameType)).Debug("Unknown Beast frame type")
			d.resync(1, "unknown frame type")
			continue
		}

		body, consumed, status := unescape(d.buffer[2:], headerLen+n)
		if status == frameIncomplete {
			break
		}
		if status == frameBroken {
			d.resync(2+consumed, "unescaped sync inside frame")
			continue
		}

		messages = append(messages, d.parse(frameType, body))
		d.frames++
		d.buffer = d.buffer[2+consumed:]
	}

	// Shift the unconsumed tail back to the start of the backing array
	d.buffer = append(d.backing[:0], d.buffer...)

	return messages
}

func (d *Decoder) resync(skip int, reason string) {
	d.resyncs++
	d.logger.WithFields(logrus.Fields{
		"skipped": skip,
		"reason":  reason,
	}).Debug("Beast stream resync")
	d.buffer = d.buffer[skip:]
}

// unescape reads n logical bytes from src, collapsing doubled sync bytes.
// consumed is the number of src bytes used; for a broken frame it is the
// offset of the stray sync byte so decoding can restart there.
func unescape(src []byte, n int) ([]byte, int, frameStatus) {
	out := make([]byte, 0, n)
	i := 0
	for len(out) < n {
		if i >= len(src) {
			return nil, 0, frameIncomplete
		}
		b := src[i]
		if b == SyncByte {
			if i+1 >= len(src) {
				return nil, 0, frameIncomplete
			}
			if src[i+1] != SyncByte {
				return nil, i, frameBroken
			}
			i++
		}
		out = append(out, b)
		i++
	}
	return out, i, frameComplete
}

func (d *Decoder) parse(frameType byte, body []byte) *Message {
	var mlat uint64
	for _, b := range body[:6] {
		mlat = mlat<<8 | uint64(b)
	}
	return &Message{
		Type:     frameType,
		MLAT:     mlat,
		Signal:   body[6],
		Data:     body[headerLen:],
		Received: d.now(),
	}
}

// Stats returns the number of frames decoded and resynchronisations
func (d *Decoder) Stats() (frames, resyncs uint64) {
	return d.frames, d.resyncs
}
