package adsb

import (
	"testing"
	"time"

	"github.com/skypies/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDecoder(policy CorrectionPolicy) *Decoder {
	config := DefaultDecoderConfig()
	config.Correction = policy
	return NewDecoder(config, quietLogger())
}

// TestDecoderIdentification tests end-to-end decoding of an identification frame
func TestDecoderIdentification(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())

	msg, err := d.Decode("*" + identHex + ";")
	require.NoError(t, err)

	assert.Equal(t, DFExtendedSquitter, msg.Format)
	assert.Equal(t, LongMsgBits, msg.Bits)
	assert.Equal(t, uint32(0x4840D6), msg.ICAO)
	assert.Equal(t, "4840D6", msg.ICAOHex())
	assert.Equal(t, identHex, msg.Hex())
	assert.Equal(t, uint8(5), msg.CA)
	assert.Equal(t, 4, msg.METype)
	assert.Equal(t, 3, msg.AircraftType)
	assert.Equal(t, "KLM1023_", msg.Callsign)
	assert.True(t, msg.CRCOk)
	assert.Empty(t, msg.CorrectedBits)

	rec := msg.Record()
	require.NotNil(t, rec.Callsign)
	assert.Equal(t, "KLM1023", *rec.Callsign)
	assert.Nil(t, rec.Latitude)
	assert.Nil(t, rec.Altitude)
}

// TestDecoderPositionPair tests that a position is resolved on the second frame
func TestDecoderPositionPair(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())
	base := time.Unix(1700000000, 0)

	first, err := d.DecodeAt(evenPositionHex, base)
	require.NoError(t, err)
	assert.Equal(t, 38000, first.Altitude)
	require.NotNil(t, first.CPR)
	assert.False(t, first.CPR.Odd)
	assert.Nil(t, first.Position)

	second, err := d.DecodeAt(oddPositionHex, base.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, second.Position)
	assert.InDelta(t, 52.26578017412606, second.Position.Latitude, 1e-9)
	assert.InDelta(t, 3.938912527901786, second.Position.Longitude, 1e-9)

	rec := second.Record()
	require.NotNil(t, rec.Latitude)
	require.NotNil(t, rec.Altitude)
	assert.Equal(t, 38000, *rec.Altitude)
	assert.Nil(t, rec.Callsign)

	h, ok := d.CPR().History(0x40621D)
	require.True(t, ok)
	require.NotNil(t, h.LastPos)
	assert.Equal(t, second.Position.Latitude, h.LastPos.Latitude)
}

// TestDecoderVelocity tests airborne velocity decoding through the pipeline
func TestDecoderVelocity(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())

	msg, err := d.Decode(velocityHex)
	require.NoError(t, err)
	require.NotNil(t, msg.Velocity)
	assert.Equal(t, 19, msg.METype)
	assert.Equal(t, 1, msg.MESub)
	assert.Equal(t, -832, msg.Velocity.VerticalRate)

	rec := msg.Record()
	require.NotNil(t, rec.Speed)
	require.NotNil(t, rec.Heading)
	assert.InDelta(t, 160.2529, *rec.Speed, 1e-3)
	assert.InDelta(t, 266.7805, *rec.Heading, 1e-3)
}

// TestDecoderSeaLevelAltitude tests that 0 ft reaches the record
func TestDecoderSeaLevelAltitude(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())
	base := time.Unix(1700000000, 0)

	lat, lon := encodeCPR(52.3, 4.76, false)
	pos, err := d.DecodeAt(toHex(extendedSquitter(0x4840D6, positionME(0, false, lat, lon))), base)
	require.NoError(t, err)
	assert.True(t, pos.HasAltitude())
	rec := pos.Record()
	require.NotNil(t, rec.Altitude)
	assert.Equal(t, 0, *rec.Altitude)

	surv, err := d.DecodeAt(toHex(addressParity(DFSurveillanceAltitude, 0x4840D6, 0x00, 0x98)), base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, surv.AltitudeValid)
	rec = surv.Record()
	require.NotNil(t, rec.Altitude)
	assert.Equal(t, 0, *rec.Altitude)

	gillham, err := d.DecodeAt(toHex(addressParity(DFSurveillanceAltitude, 0x4840D6, 0x18, 0x28)), base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, gillham.HasAltitude())
	assert.Nil(t, gillham.Record().Altitude)
}

// TestDecoderRejects tests the drop reasons
func TestDecoderRejects(t *testing.T) {
	unknown := make([]byte, ShortMsgBytes)
	unknown[0] = 3 << 3

	tests := []struct {
		name string
		line string
		want error
	}{
		{"Empty line", "", ErrMalformedFrame},
		{"Not hex", "*hello;", ErrMalformedFrame},
		{"Odd length", "8D4840D6202CC371C32CE057609", ErrMalformedFrame},
		{"Truncated long frame", "8D4840D6202CC371", ErrMalformedFrame},
		{"Unknown format", toHex(unknown), ErrChecksumFailed},
		{"Unconfirmed address", toHex(addressParity(DFSurveillanceAltitude, 0x4840D6, 0x18, 0x38)), ErrAddressUnconfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecoder(DefaultCorrectionPolicy())
			msg, err := d.Decode(tt.line)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsDropped(err))
		})
	}

	assert.False(t, IsDropped(nil))
	assert.False(t, IsDropped(ErrCPRUnresolved))
}

// TestDecoderSingleBitCorrection tests repair of a damaged extended squitter
func TestDecoderSingleBitCorrection(t *testing.T) {
	damaged := mustHex(t, identHex)
	flipBit(damaged, 50)
	input := append([]byte(nil), damaged...)
	now := time.Unix(1700000000, 0)

	t.Run("Enabled", func(t *testing.T) {
		d := newTestDecoder(DefaultCorrectionPolicy())
		msg, err := d.DecodeFrame(input, now)
		require.NoError(t, err)
		assert.Equal(t, []int{50}, msg.CorrectedBits)
		assert.Equal(t, "KLM1023_", msg.Callsign)
		assert.Equal(t, identHex, msg.Hex())
		assert.Equal(t, damaged, input, "input left untouched")

		// Corrected frames never vouch for an address
		assert.False(t, d.SeenRecently(0x4840D6, now))
		assert.Equal(t, uint64(1), d.Stats().Snapshot().SingleBitFixes)
	})

	t.Run("Disabled", func(t *testing.T) {
		d := newTestDecoder(CorrectionPolicy{})
		_, err := d.DecodeFrame(input, now)
		assert.ErrorIs(t, err, ErrChecksumFailed)
	})
}

// TestDecoderTwoBitCorrection tests the two-bit path through the decoder
func TestDecoderTwoBitCorrection(t *testing.T) {
	damaged := mustHex(t, evenPositionHex)
	flipBit(damaged, 30)
	flipBit(damaged, 31)

	d := newTestDecoder(DefaultCorrectionPolicy())
	_, err := d.DecodeFrame(damaged, time.Now())
	assert.ErrorIs(t, err, ErrChecksumFailed)

	d = newTestDecoder(CorrectionPolicy{FixErrors: true, TwoBit: TwoBitDF17})
	msg, err := d.DecodeFrame(damaged, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int{30, 31}, msg.CorrectedBits)
	assert.Equal(t, evenPositionHex, msg.Hex())
	assert.Equal(t, uint64(1), d.Stats().Snapshot().TwoBitFixes)
}

// TestDecoderAddressParity tests implicit address confirmation through the cache
func TestDecoderAddressParity(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())
	base := time.Unix(1700000000, 0)

	altitudeReply := addressParity(DFSurveillanceAltitude, 0x4840D6, 0x18, 0x38)
	identityReply := addressParity(DFSurveillanceIdentity, 0x4840D6, 0x08, 0x08)

	_, err := d.DecodeFrame(altitudeReply, base)
	require.ErrorIs(t, err, ErrAddressUnconfirmed)

	_, err = d.DecodeAt(identHex, base)
	require.NoError(t, err)
	assert.True(t, d.SeenRecently(0x4840D6, base))

	msg, err := d.DecodeFrame(altitudeReply, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4840D6), msg.ICAO)
	assert.Equal(t, 38000, msg.Altitude)
	assert.Equal(t, UnitFeet, msg.AltitudeUnit)

	msg, err = d.DecodeFrame(identityReply, base.Add(60*time.Second))
	require.NoError(t, err)
	assert.True(t, msg.HasSquawk)
	assert.Equal(t, 1200, msg.Squawk)
	require.NotNil(t, msg.Record().Squawk)
	assert.Equal(t, "1200", *msg.Record().Squawk)

	_, err = d.DecodeFrame(altitudeReply, base.Add(61*time.Second))
	assert.ErrorIs(t, err, ErrAddressUnconfirmed)

	// AP frames do not refresh the cache
	assert.False(t, d.SeenRecently(0x4840D6, base.Add(61*time.Second)))
}

// TestDecoderAllCallReply tests that DF11 frames populate the address cache
func TestDecoderAllCallReply(t *testing.T) {
	d := newTestDecoder(DefaultCorrectionPolicy())
	now := time.Unix(1700000000, 0)

	msg, err := d.DecodeFrame(allCallReply(0xA1B2C3), now)
	require.NoError(t, err)
	assert.Equal(t, DFAllCallReply, msg.Format)
	assert.Equal(t, ShortMsgBits, msg.Bits)
	assert.Equal(t, uint32(0xA1B2C3), msg.ICAO)
	assert.True(t, d.SeenRecently(0xA1B2C3, now))
}

// TestDecoderNonTransponderSquitter tests that DF18 is verified as a short frame
func TestDecoderNonTransponderSquitter(t *testing.T) {
	frame := make([]byte, ShortMsgBytes)
	frame[0] = byte(DFExtendedSquitterTISB) << 3
	frame[1], frame[2], frame[3] = 0x11, 0x22, 0x33
	sealParity(frame, 0)

	d := newTestDecoder(DefaultCorrectionPolicy())
	msg, err := d.DecodeFrame(frame, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint32(0x112233), msg.ICAO)
	assert.False(t, d.SeenRecently(0x112233, time.Now()))
}

// TestDecoderStats tests the session counters
func TestDecoderStats(t *testing.T) {
	config := DefaultDecoderConfig()
	config.Receiver = &geo.Latlong{Lat: 52.3, Long: 3.9}
	d := NewDecoder(config, quietLogger())
	base := time.Unix(1700000000, 0)

	lines := []string{
		identHex,
		"garbage",
		evenPositionHex,
		oddPositionHex,
		toHex(addressParity(DFSurveillanceAltitude, 0x777777, 0x18, 0x38)),
		velocityHex,
	}
	for i, line := range lines {
		_, _ = d.DecodeAt(line, base.Add(time.Duration(i)*time.Second))
	}

	snap := d.Stats().Snapshot()
	assert.Equal(t, uint64(6), snap.Lines)
	assert.Equal(t, uint64(4), snap.Messages)
	assert.Equal(t, uint64(1), snap.Malformed)
	assert.Equal(t, uint64(1), snap.AddressUnconfirmed)
	assert.Equal(t, uint64(0), snap.ChecksumFailed)
	assert.Equal(t, uint64(1), snap.Positions)
	assert.Equal(t, uint64(1), snap.CPRUnresolved)
	assert.Equal(t, 3, snap.UniqueAddresses)
	assert.Equal(t, uint64(4), snap.PerFormat["extended-squitter"])
	assert.Greater(t, snap.MaxDistanceKM, 0.0)
	assert.Less(t, snap.MaxDistanceKM, 10.0)
}
