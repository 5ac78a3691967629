package adsb

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Latitudes at which the number of longitude zones drops by one
var nlBreakpoints = []float64{
	10.47047130, 14.82817437, 18.18626357, 21.02939493, 23.54504487, 25.82924707,
	27.93898710, 29.91135686, 31.77209708, 33.53993436, 35.22899598, 36.85025108,
	38.41241892, 39.92256684, 41.38651832, 42.80914012, 44.19454951, 45.54626723,
	46.86733252, 48.16039128, 49.42776439, 50.67150166, 51.89342469, 53.09516153,
	54.27817472, 55.44378444, 56.59318756, 57.72747354, 58.84763776, 59.95459277,
	61.04917774, 62.13216659, 63.20427479, 64.26616523, 65.31845310, 66.36171008,
	67.39646774, 68.42322022, 69.44242631, 70.45451075, 71.45986473, 72.45884545,
	73.45177442, 74.43893416, 75.42056257, 76.39684391, 77.36789461, 78.33374083,
	79.29428225, 80.24923213, 81.19801349, 82.13956981, 83.07199445, 83.99173563,
	84.89166191, 85.75541621, 86.53536998, 87.00000000,
}

// TestNL tests the longitude zone count against the published breakpoints
func TestNL(t *testing.T) {
	n := 59
	for _, bp := range nlBreakpoints {
		assert.Equal(t, n, NL(bp-1e-6), "just below %.8f", bp)
		assert.Equal(t, n-1, NL(bp+1e-6), "just above %.8f", bp)
		assert.Equal(t, n, NL(-bp+1e-6), "just below -%.8f", bp)
		n--
	}

	assert.Equal(t, 59, NL(0))
	assert.Equal(t, 2, NL(87))
	assert.Equal(t, 2, NL(-87))
	assert.Equal(t, 1, NL(88))
	assert.Equal(t, 1, NL(90))
}

// TestCPRN tests that the zone count never drops below one
func TestCPRN(t *testing.T) {
	assert.Equal(t, 59, cprN(0, 0))
	assert.Equal(t, 58, cprN(0, 1))
	assert.Equal(t, 1, cprN(89, 0))
	assert.Equal(t, 1, cprN(89, 1))
}

func addPair(t *testing.T, r *CPRResolver, icao uint32, lat, lon float64, first time.Time, oddFirst bool) (Position, error) {
	t.Helper()
	eLat, eLon := encodeCPR(lat, lon, false)
	oLat, oLon := encodeCPR(lat, lon, true)
	even := RawCPR{Lat: eLat, Lon: eLon}
	odd := RawCPR{Odd: true, Lat: oLat, Lon: oLon}

	if oddFirst {
		even, odd = odd, even
	}
	_, err := r.Add(icao, even, first)
	require.ErrorIs(t, err, ErrCPRUnresolved)
	return r.Add(icao, odd, first.Add(time.Second))
}

// TestCPRResolverGoldenPair tests decoding of a captured frame pair
func TestCPRResolverGoldenPair(t *testing.T) {
	even := DecodeRawCPR(mustHex(t, evenPositionHex))
	odd := DecodeRawCPR(mustHex(t, oddPositionHex))
	base := time.Unix(1700000000, 0)

	t.Run("Even newest", func(t *testing.T) {
		r := NewCPRResolver(10*time.Second, quietLogger())
		_, err := r.Add(0x40621D, odd, base)
		assert.ErrorIs(t, err, ErrCPRUnresolved)

		pos, err := r.Add(0x40621D, even, base.Add(time.Second))
		require.NoError(t, err)
		assert.InDelta(t, 52.2572021484375, pos.Latitude, 1e-9)
		assert.InDelta(t, 3.91937255859375, pos.Longitude, 1e-9)
		assert.Equal(t, base.Add(time.Second), pos.Timestamp)
	})

	t.Run("Odd newest", func(t *testing.T) {
		r := NewCPRResolver(10*time.Second, quietLogger())
		_, err := r.Add(0x40621D, even, base)
		assert.ErrorIs(t, err, ErrCPRUnresolved)

		pos, err := r.Add(0x40621D, odd, base.Add(time.Second))
		require.NoError(t, err)
		assert.InDelta(t, 52.26578017412606, pos.Latitude, 1e-9)
		assert.InDelta(t, 3.938912527901786, pos.Longitude, 1e-9)
	})

	t.Run("Equal timestamps use the frame just added", func(t *testing.T) {
		r := NewCPRResolver(10*time.Second, nil)
		_, _ = r.Add(0x40621D, odd, base)

		pos, err := r.Add(0x40621D, even, base)
		require.NoError(t, err)
		assert.InDelta(t, 52.2572021484375, pos.Latitude, 1e-9)
	})
}

// TestCPRResolverRoundTrip tests that encoded positions decode back
func TestCPRResolverRoundTrip(t *testing.T) {
	points := []struct {
		name     string
		lat, lon float64
	}{
		{"Amsterdam", 52.2572, 3.91937},
		{"Sydney", -33.9461, 151.1772},
		{"New York", 40.6413, -73.7781},
		{"Eastern Pacific", 10, -100},
		{"Near antimeridian", 0.5, 179.5},
		{"South Atlantic", -45, -60},
		{"Reykjavik", 64.1, -21.9},
		{"Singapore", 1.35, 103.98},
	}

	base := time.Unix(1700000000, 0)
	for i, p := range points {
		t.Run(p.name, func(t *testing.T) {
			r := NewCPRResolver(DefaultCPRPairWindow, quietLogger())
			for _, oddFirst := range []bool{false, true} {
				pos, err := addPair(t, r, uint32(0x100000+i), p.lat, p.lon, base, oddFirst)
				require.NoError(t, err)
				assert.InDelta(t, p.lat, pos.Latitude, 1e-4)
				assert.InDelta(t, p.lon, pos.Longitude, 1e-4)
				assert.Greater(t, pos.Longitude, -180.0)
				assert.LessOrEqual(t, pos.Longitude, 180.0)
				base = base.Add(time.Minute)
				r = NewCPRResolver(DefaultCPRPairWindow, quietLogger())
			}
		})
	}
}

// TestCPRResolverPairWindow tests that stale partners are not paired
func TestCPRResolverPairWindow(t *testing.T) {
	even := DecodeRawCPR(mustHex(t, evenPositionHex))
	odd := DecodeRawCPR(mustHex(t, oddPositionHex))
	base := time.Unix(1700000000, 0)

	r := NewCPRResolver(10*time.Second, quietLogger())
	_, _ = r.Add(0x40621D, even, base)

	_, err := r.Add(0x40621D, odd, base.Add(11*time.Second))
	assert.ErrorIs(t, err, ErrCPRUnresolved)

	// A fresh even frame pairs with the stored odd one
	_, err = r.Add(0x40621D, even, base.Add(12*time.Second))
	assert.NoError(t, err)

	// Exactly at the window edge still pairs
	_, err = r.Add(0x40621D, odd, base.Add(22*time.Second))
	assert.NoError(t, err)

	assert.Equal(t, 10*time.Second, r.PairWindow())
	assert.Equal(t, DefaultCPRPairWindow, NewCPRResolver(0, nil).PairWindow())
}

// TestCPRResolverUnresolvable tests pairs rejected by the range and zone checks
func TestCPRResolverUnresolvable(t *testing.T) {
	base := time.Unix(1700000000, 0)

	t.Run("Zone straddle", func(t *testing.T) {
		r := NewCPRResolver(DefaultCPRPairWindow, quietLogger())
		eLat, eLon := encodeCPR(10.4703, 20.0, false)
		oLat, oLon := encodeCPR(10.4707, 20.0, true)

		_, _ = r.Add(0xAAAAAA, RawCPR{Lat: eLat, Lon: eLon}, base)
		_, err := r.Add(0xAAAAAA, RawCPR{Odd: true, Lat: oLat, Lon: oLon}, base.Add(time.Second))
		assert.ErrorIs(t, err, ErrCPRUnresolved)
	})

	t.Run("Latitude out of range", func(t *testing.T) {
		_, _, err := DecodeGlobalCPR(
			&CPRFrame{LatCPR: 0, LonCPR: 0},
			&CPRFrame{LatCPR: 65536, LonCPR: 0, Odd: true},
			true,
		)
		assert.ErrorIs(t, err, ErrCPRUnresolved)
	})
}

// TestCPRResolverHistory tests frame storage per parity
func TestCPRResolverHistory(t *testing.T) {
	r := NewCPRResolver(DefaultCPRPairWindow, quietLogger())
	base := time.Unix(1700000000, 0)

	_, ok := r.History(0x123456)
	assert.False(t, ok)

	_, _ = r.Add(0x123456, RawCPR{Lat: 100, Lon: 200}, base)
	_, _ = r.Add(0x123456, RawCPR{Lat: 300, Lon: 400}, base.Add(time.Second))

	h, ok := r.History(0x123456)
	require.True(t, ok)
	require.NotNil(t, h.EvenFrame)
	assert.Nil(t, h.OddFrame)
	assert.Equal(t, uint32(300), h.EvenFrame.LatCPR, "newer even frame replaces the older")
	assert.Equal(t, base.Add(time.Second), h.LastUpdate)

	// The copy is detached from the resolver
	h.EvenFrame.LatCPR = 1
	again, _ := r.History(0x123456)
	assert.Equal(t, uint32(300), again.EvenFrame.LatCPR)
}

// TestCPRResolverPrune tests removal of idle aircraft
func TestCPRResolverPrune(t *testing.T) {
	r := NewCPRResolver(DefaultCPRPairWindow, quietLogger())
	base := time.Unix(1700000000, 0)

	_, _ = r.Add(0x000001, RawCPR{}, base)
	_, _ = r.Add(0x000002, RawCPR{}, base.Add(time.Minute))
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 1, r.Prune(base.Add(30*time.Second)))
	assert.Equal(t, 1, r.Len())
	_, ok := r.History(0x000002)
	assert.True(t, ok)
}

// TestCPRConcurrentAccess tests concurrent access to the resolver
func TestCPRConcurrentAccess(t *testing.T) {
	r := NewCPRResolver(DefaultCPRPairWindow, quietLogger())
	eLat, eLon := encodeCPR(52.2572, 3.91937, false)
	oLat, oLon := encodeCPR(52.2572, 3.91937, true)
	base := time.Unix(1700000000, 0)

	const numGoroutines = 8
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(icao uint32) {
			defer wg.Done()
			_, _ = r.Add(icao, RawCPR{Lat: eLat, Lon: eLon}, base)
			pos, err := r.Add(icao, RawCPR{Odd: true, Lat: oLat, Lon: oLon}, base.Add(time.Second))
			assert.NoError(t, err)
			assert.InDelta(t, 52.2572, pos.Latitude, 1e-4)
			r.History(icao)
		}(uint32(0x484410 + i))
	}
	wg.Wait()

	assert.Equal(t, numGoroutines, r.Len())
}

// TestCPRConstants tests CPR-related constants
func TestCPRConstants(t *testing.T) {
	assert.Equal(t, 131072, CPR_LAT_MAX)
	assert.Equal(t, 131072, CPR_LON_MAX)
	assert.Equal(t, 15, CPR_NZ)
}
