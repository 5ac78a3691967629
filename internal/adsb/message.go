package adsb

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Message represents one decoded Mode S frame
type Message struct {
	Data      []byte
	Bits      int
	Timestamp time.Time

	CRCFields

	// Downlink format and its subfields
	Format DownlinkFormat
	CA     uint8 // capability (DF11/17)
	FS     uint8 // flight status (DF4/5/20/21)
	DR     uint8 // downlink request
	UM     uint8 // utility message

	// Extended squitter type and subtype
	METype int
	MESub  int

	ICAO uint32

	// Payload; which fields are set depends on Format and METype
	Altitude      int
	AltitudeUnit  AltitudeUnit
	AltitudeValid bool
	Squawk        int
	HasSquawk     bool
	Callsign      string
	AircraftType  int
	Velocity      *Velocity
	CPR           *RawCPR
	Position      *Position
}

// CRCFields records the outcome of checksum verification
type CRCFields struct {
	CRC   uint32
	CRCOk bool
	// CorrectedBits holds the flipped bit indices; empty when the frame was intact
	CorrectedBits []int
}

// AircraftPosition tracks CPR frames for one aircraft
type AircraftPosition struct {
	ICAO       uint32
	EvenFrame  *CPRFrame
	OddFrame   *CPRFrame
	LastPos    *Position
	LastUpdate time.Time
}

func (a *AircraftPosition) clone() AircraftPosition {
	c := AircraftPosition{ICAO: a.ICAO, LastUpdate: a.LastUpdate}
	if a.EvenFrame != nil {
		f := *a.EvenFrame
		c.EvenFrame = &f
	}
	if a.OddFrame != nil {
		f := *a.OddFrame
		c.OddFrame = &f
	}
	if a.LastPos != nil {
		p := *a.LastPos
		c.LastPos = &p
	}
	return c
}

// CPRFrame represents a CPR encoded position frame
type CPRFrame struct {
	LatCPR    uint32
	LonCPR    uint32
	Odd       bool
	Timestamp time.Time
}

// Position represents decoded lat/lon coordinates
type Position struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// ICAOHex returns the address as six upper case hex digits
func (m *Message) ICAOHex() string {
	return fmt.Sprintf("%06X", m.ICAO)
}

// Hex returns the frame bytes as upper case hex
func (m *Message) Hex() string {
	return strings.ToUpper(hex.EncodeToString(m.Data[:m.Bits/8]))
}

// HasAltitude reports whether an altitude in feet was decoded. 0 ft is a
// valid altitude.
func (m *Message) HasAltitude() bool {
	return m.AltitudeValid && m.AltitudeUnit == UnitFeet
}

// Record is the flat projection of a message handed to stores and publishers
type Record struct {
	ICAO      string         `json:"icao"`
	Format    DownlinkFormat `json:"df"`
	Timestamp time.Time      `json:"timestamp"`
	Callsign  *string        `json:"callsign,omitempty"`
	Latitude  *float64       `json:"lat,omitempty"`
	Longitude *float64       `json:"lon,omitempty"`
	Altitude  *int           `json:"altitude,omitempty"`
	Speed     *float64       `json:"speed,omitempty"`
	Heading   *float64       `json:"heading,omitempty"`
	Squawk    *string        `json:"squawk,omitempty"`
}

// Record builds the sink-facing view of the message, carrying only the
// fields that were actually decoded
func (m *Message) Record() Record {
	r := Record{
		ICAO:      m.ICAOHex(),
		Format:    m.Format,
		Timestamp: m.Timestamp,
	}

	if cs := TrimCallsign(m.Callsign); cs != "" {
		r.Callsign = &cs
	}
	if m.Position != nil {
		lat, lon := m.Position.Latitude, m.Position.Longitude
		r.Latitude = &lat
		r.Longitude = &lon
	}
	if m.HasAltitude() {
		alt := m.Altitude
		r.Altitude = &alt
	}
	if m.Velocity != nil {
		if m.Velocity.Subtype == 1 || m.Velocity.Subtype == 2 {
			speed := m.Velocity.Speed
			r.Speed = &speed
		}
		if m.Velocity.HeadingValid {
			heading := m.Velocity.Heading
			r.Heading = &heading
		}
	}
	if m.HasSquawk {
		sq := fmt.Sprintf("%04d", m.Squawk)
		r.Squawk = &sq
	}
	return r
}
