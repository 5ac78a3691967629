package adsb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skypies/geo"
)

// DecoderConfig tunes the decoding session
type DecoderConfig struct {
	ICAOCacheSize int
	ICAOCacheTTL  time.Duration
	PairWindow    time.Duration
	Correction    CorrectionPolicy
	// Receiver is the antenna location for range statistics, may be nil
	Receiver *geo.Latlong
}

// DefaultDecoderConfig returns the settings used when nothing is configured
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		ICAOCacheSize: DefaultICAOCacheSize,
		ICAOCacheTTL:  DefaultICAOCacheTTL,
		PairWindow:    DefaultCPRPairWindow,
		Correction:    DefaultCorrectionPolicy(),
	}
}

// Decoder runs the Mode S pipeline on one frame at a time: frame parsing,
// checksum verification, error correction, field decoding and CPR
// resolution. It owns the session state (recently seen addresses and CPR
// frame history).
type Decoder struct {
	logger *logrus.Logger
	policy CorrectionPolicy

	// cacheMutex guards icaoCache; the CPR resolver has its own lock
	cacheMutex sync.Mutex
	icaoCache  *ICAOCache
	cpr        *CPRResolver
	stats      *Stats

	now func() time.Time
}

// NewDecoder creates a decoder with empty session state
func NewDecoder(config DecoderConfig, logger *logrus.Logger) *Decoder {
	return &Decoder{
		logger:    logger,
		policy:    config.Correction,
		icaoCache: NewICAOCache(config.ICAOCacheSize, config.ICAOCacheTTL),
		cpr:       NewCPRResolver(config.PairWindow, logger),
		stats:     NewStats(config.Receiver),
		now:       time.Now,
	}
}

// Stats returns the session counters
func (d *Decoder) Stats() *Stats {
	return d.stats
}

// CPR returns the position resolver holding per-aircraft frame history
func (d *Decoder) CPR() *CPRResolver {
	return d.cpr
}

// SeenRecently reports whether addr was verified within the cache TTL
func (d *Decoder) SeenRecently(addr uint32, now time.Time) bool {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()
	return d.icaoCache.Lookup(addr, now)
}

// Decode decodes one feed line stamped with the current time
func (d *Decoder) Decode(line string) (*Message, error) {
	return d.DecodeAt(line, d.now())
}

// DecodeAt decodes one feed line received at t
func (d *Decoder) DecodeAt(line string, t time.Time) (*Message, error) {
	frame, err := ParseHex(line)
	if err != nil {
		d.stats.recordLine()
		d.stats.recordDrop(err)
		return nil, err
	}
	return d.DecodeFrame(frame, t)
}

// DecodeFrame decodes raw frame bytes received at t. The input slice is
// not modified.
func (d *Decoder) DecodeFrame(frame []byte, t time.Time) (*Message, error) {
	d.stats.recordLine()

	msg, err := d.verify(frame, t)
	if err != nil {
		d.stats.recordDrop(err)
		return nil, err
	}

	decodeSubfields(msg)
	decodePayload(msg)

	var cprErr error
	if msg.CPR != nil {
		pos, err := d.cpr.Add(msg.ICAO, *msg.CPR, t)
		if err != nil {
			cprErr = err
		} else {
			msg.Position = &pos
		}
	}

	d.stats.recordMessage(msg, cprErr)
	return msg, nil
}

// verify checks the frame checksum, recovering implicit addresses and
// correcting bit errors where the format allows it
func (d *Decoder) verify(frame []byte, t time.Time) (*Message, error) {
	bits, err := checkLength(frame)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Data:      append([]byte(nil), frame[:bits/8]...),
		Bits:      bits,
		Timestamp: t,
		Format:    FrameDF(frame),
	}
	df := msg.Format

	if !df.Known() {
		return nil, fmt.Errorf("unsupported downlink format %d: %w", df, ErrChecksumFailed)
	}

	if df.AddressParity() {
		addr := RecoverAddress(msg.Data, bits)
		if !d.SeenRecently(addr, t) {
			return nil, fmt.Errorf("DF%d candidate %06X: %w", df, addr, ErrAddressUnconfirmed)
		}
		msg.ICAO = addr
		msg.CRC = Checksum(msg.Data, bits)
		msg.CRCOk = true
		return msg, nil
	}

	if Checksum(msg.Data, bits) != ParityField(msg.Data, bits) {
		fixed, err := d.policy.Correct(msg.Data, bits, df)
		if err != nil {
			return nil, err
		}
		msg.CorrectedBits = fixed
		if d.logger != nil {
			d.logger.WithFields(logrus.Fields{
				"df":   uint8(df),
				"bits": fixed,
			}).Debug("Corrected bit errors")
		}
	}

	msg.CRC = Checksum(msg.Data, bits)
	msg.CRCOk = true
	msg.ICAO = uint32(msg.Data[1])<<16 | uint32(msg.Data[2])<<8 | uint32(msg.Data[3])

	// Only addresses from intact frames are trusted for AP recovery
	if len(msg.CorrectedBits) == 0 && df.Correctable() {
		d.cacheMutex.Lock()
		d.icaoCache.Insert(msg.ICAO, t)
		d.cacheMutex.Unlock()
	}

	return msg, nil
}

func decodeSubfields(msg *Message) {
	data := msg.Data
	msg.CA = data[0] & 7
	msg.FS = data[0] & 7
	msg.DR = data[1] >> 3 & 31
	msg.UM = (data[1]&7)<<3 | data[2]>>5

	if msg.Bits == LongMsgBits {
		msg.METype = int(data[4] >> 3)
		msg.MESub = int(data[4] & 7)
	}
}

func decodePayload(msg *Message) {
	switch msg.Format {
	case DFShortAirAir, DFSurveillanceAltitude, DFLongAirAir, DFCommBAltitude:
		msg.Altitude, msg.AltitudeUnit, msg.AltitudeValid = DecodeAC13(msg.Data)

	case DFSurveillanceIdentity, DFCommBIdentity:
		msg.Squawk = DecodeSquawk(msg.Data)
		msg.HasSquawk = true

	case DFExtendedSquitter:
		decodeExtendedSquitter(msg)

	case DFAllCallReply, DFExtendedSquitterTISB, DFMilitaryExtended, DFCommD:
		// address only
	}
}

func decodeExtendedSquitter(msg *Message) {
	switch {
	case msg.METype >= 1 && msg.METype <= 4:
		msg.AircraftType = msg.METype - 1
		msg.Callsign = DecodeCallsign(msg.Data)

	case msg.METype >= 9 && msg.METype <= 18:
		msg.Altitude, msg.AltitudeUnit, msg.AltitudeValid = DecodeAC12(msg.Data)
		raw := DecodeRawCPR(msg.Data)
		msg.CPR = &raw

	case msg.METype == 19 && msg.MESub >= 1 && msg.MESub <= 4:
		v := DecodeVelocity(msg.Data)
		msg.Velocity = &v
	}
}

// IsDropped reports whether err means the frame produced no message
func IsDropped(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrChecksumFailed) ||
		errors.Is(err, ErrAddressUnconfirmed)
}
