package adsb

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CPRResolver pairs even and odd airborne position frames per aircraft and
// resolves them into a global latitude/longitude
type CPRResolver struct {
	aircraftPositions map[uint32]*AircraftPosition
	positionMutex     sync.RWMutex
	pairWindow        time.Duration
	logger            *logrus.Logger
}

// NewCPRResolver creates a resolver that only pairs frames received at
// most pairWindow apart
func NewCPRResolver(pairWindow time.Duration, logger *logrus.Logger) *CPRResolver {
	if pairWindow <= 0 {
		pairWindow = DefaultCPRPairWindow
	}
	return &CPRResolver{
		aircraftPositions: make(map[uint32]*AircraftPosition),
		pairWindow:        pairWindow,
		logger:            logger,
	}
}

// PairWindow returns the maximum age difference between paired frames
func (c *CPRResolver) PairWindow() time.Duration {
	return c.pairWindow
}

// Add stores the frame under its parity for icao, replacing the previous
// frame of the same parity, and attempts a global decode. The frame stays
// stored even when ErrCPRUnresolved is returned.
func (c *CPRResolver) Add(icao uint32, raw RawCPR, t time.Time) (Position, error) {
	c.positionMutex.Lock()
	defer c.positionMutex.Unlock()

	aircraft, exists := c.aircraftPositions[icao]
	if !exists {
		aircraft = &AircraftPosition{ICAO: icao}
		c.aircraftPositions[icao] = aircraft
	}
	aircraft.LastUpdate = t

	frame := &CPRFrame{
		LatCPR:    raw.Lat,
		LonCPR:    raw.Lon,
		Odd:       raw.Odd,
		Timestamp: t,
	}
	if raw.Odd {
		aircraft.OddFrame = frame
	} else {
		aircraft.EvenFrame = frame
	}

	if aircraft.EvenFrame == nil || aircraft.OddFrame == nil {
		return Position{}, fmt.Errorf("ICAO %06X waiting for %s frame: %w", icao, parityName(!raw.Odd), ErrCPRUnresolved)
	}

	gap := aircraft.EvenFrame.Timestamp.Sub(aircraft.OddFrame.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > c.pairWindow {
		return Position{}, fmt.Errorf("ICAO %06X frames %s apart: %w", icao, gap, ErrCPRUnresolved)
	}

	// The newest frame wins; on equal timestamps the frame just added does
	useOdd := raw.Odd
	if !aircraft.OddFrame.Timestamp.Equal(aircraft.EvenFrame.Timestamp) {
		useOdd = aircraft.OddFrame.Timestamp.After(aircraft.EvenFrame.Timestamp)
	}

	lat, lon, err := DecodeGlobalCPR(aircraft.EvenFrame, aircraft.OddFrame, useOdd)
	if err != nil {
		if c.logger != nil {
			c.logger.WithError(err).WithField("icao", fmt.Sprintf("%06X", icao)).Debug("CPR pair rejected")
		}
		return Position{}, fmt.Errorf("ICAO %06X: %w", icao, err)
	}

	pos := Position{Latitude: lat, Longitude: lon, Timestamp: t}
	aircraft.LastPos = &pos

	if c.logger != nil {
		c.logger.Debugf("CPR decode: ICAO=%06X, lat=%.6f, lon=%.6f", icao, lat, lon)
	}
	return pos, nil
}

// History returns a copy of the frame history kept for icao
func (c *CPRResolver) History(icao uint32) (AircraftPosition, bool) {
	c.positionMutex.RLock()
	defer c.positionMutex.RUnlock()

	aircraft, ok := c.aircraftPositions[icao]
	if !ok {
		return AircraftPosition{}, false
	}
	return aircraft.clone(), true
}

// Len returns the number of aircraft with stored frames
func (c *CPRResolver) Len() int {
	c.positionMutex.RLock()
	defer c.positionMutex.RUnlock()
	return len(c.aircraftPositions)
}

// Prune forgets aircraft whose last frame arrived before cutoff and returns
// how many were removed
func (c *CPRResolver) Prune(cutoff time.Time) int {
	c.positionMutex.Lock()
	defer c.positionMutex.Unlock()

	removed := 0
	for icao, aircraft := range c.aircraftPositions {
		if aircraft.LastUpdate.Before(cutoff) {
			delete(c.aircraftPositions, icao)
			removed++
		}
	}
	return removed
}

func parityName(odd bool) string {
	if odd {
		return "odd"
	}
	return "even"
}

// cprModInt performs always positive MOD operation
func cprModInt(a, b int) int {
	res := a % b
	if res < 0 {
		res += b
	}
	return res
}

// NL returns the number of longitude zones at the given latitude:
//
//	NL(lat) = floor(2π / acos(1 - (1-cos(π/(2·NZ))) / cos²(π/180·lat)))
func NL(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}

	a := 1 - math.Cos(math.Pi/(2*CPR_NZ))
	b := math.Cos(math.Pi / 180 * lat)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/(b*b))))
}

// cprN returns the number of longitude zones used by a frame of the given
// parity at lat, never less than one
func cprN(lat float64, parity int) int {
	n := NL(lat) - parity
	if n < 1 {
		n = 1
	}
	return n
}

// DecodeGlobalCPR resolves an even/odd frame pair into latitude and
// longitude. useOdd selects which frame's position is reported, normally
// the most recent one.
func DecodeGlobalCPR(even, odd *CPRFrame, useOdd bool) (float64, float64, error) {
	const cprMax = float64(CPR_LAT_MAX)

	airDlat0 := 360.0 / 60.0
	airDlat1 := 360.0 / 59.0

	lat0 := float64(even.LatCPR)
	lat1 := float64(odd.LatCPR)
	lon0 := float64(even.LonCPR)
	lon1 := float64(odd.LonCPR)

	// Latitude zone index
	j := int(math.Floor((59*lat0-60*lat1)/cprMax + 0.5))

	rlat0 := airDlat0 * (float64(cprModInt(j, 60)) + lat0/cprMax)
	rlat1 := airDlat1 * (float64(cprModInt(j, 59)) + lat1/cprMax)

	if rlat0 >= 270 {
		rlat0 -= 360
	}
	if rlat1 >= 270 {
		rlat1 -= 360
	}

	if rlat0 < -90 || rlat0 > 90 || rlat1 < -90 || rlat1 > 90 {
		return 0, 0, fmt.Errorf("latitude out of range (%.6f, %.6f): %w", rlat0, rlat1, ErrCPRUnresolved)
	}

	// Both frames must sit in the same longitude zone band
	nl0, nl1 := NL(rlat0), NL(rlat1)
	if nl0 != nl1 {
		return 0, 0, fmt.Errorf("frames straddle NL boundary (%d vs %d): %w", nl0, nl1, ErrCPRUnresolved)
	}

	rlat, lonCPR, parity := rlat0, lon0, 0
	if useOdd {
		rlat, lonCPR, parity = rlat1, lon1, 1
	}

	nl := NL(rlat)
	ni := cprN(rlat, parity)
	m := int(math.Floor((lon0*float64(nl-1)-lon1*float64(nl))/cprMax + 0.5))
	rlon := (360.0 / float64(ni)) * (float64(cprModInt(m, ni)) + lonCPR/cprMax)

	// Wrap into (-180, 180]
	rlon -= math.Floor((rlon+180)/360) * 360
	if rlon == -180 {
		rlon = 180
	}

	return rlat, rlon, nil
}
