package adsb

import (
	"errors"
	"sync"

	"github.com/skypies/geo"
)

// Stats aggregates counters over a decoding session. The decode loop is the
// only writer; readers get consistent copies through Snapshot.
type Stats struct {
	mu sync.RWMutex

	receiver *geo.Latlong

	lines           uint64
	messages        uint64
	perFormat       map[DownlinkFormat]uint64
	addresses       map[uint32]struct{}
	singleBitFixes  uint64
	twoBitFixes     uint64
	positions       uint64
	cprUnresolved   uint64
	malformed       uint64
	checksumFailed  uint64
	addrUnconfirmed uint64
	maxDistanceKM   float64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Lines              uint64            `json:"lines"`
	Messages           uint64            `json:"messages"`
	PerFormat          map[string]uint64 `json:"per_format"`
	UniqueAddresses    int               `json:"unique_addresses"`
	SingleBitFixes     uint64            `json:"single_bit_fixes"`
	TwoBitFixes        uint64            `json:"two_bit_fixes"`
	Positions          uint64            `json:"positions"`
	CPRUnresolved      uint64            `json:"cpr_unresolved"`
	Malformed          uint64            `json:"malformed"`
	ChecksumFailed     uint64            `json:"checksum_failed"`
	AddressUnconfirmed uint64            `json:"address_unconfirmed"`
	MaxDistanceKM      float64           `json:"max_distance_km"`
}

// NewStats creates an empty counter set. receiver, when not nil, is the
// antenna location used for the maximum range statistic.
func NewStats(receiver *geo.Latlong) *Stats {
	return &Stats{
		receiver:  receiver,
		perFormat: make(map[DownlinkFormat]uint64),
		addresses: make(map[uint32]struct{}),
	}
}

func (s *Stats) recordLine() {
	s.mu.Lock()
	s.lines++
	s.mu.Unlock()
}

func (s *Stats) recordDrop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ErrMalformedFrame):
		s.malformed++
	case errors.Is(err, ErrAddressUnconfirmed):
		s.addrUnconfirmed++
	case errors.Is(err, ErrChecksumFailed):
		s.checksumFailed++
	}
}

func (s *Stats) recordMessage(msg *Message, cprErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages++
	s.perFormat[msg.Format]++
	s.addresses[msg.ICAO] = struct{}{}

	switch len(msg.CorrectedBits) {
	case 1:
		s.singleBitFixes++
	case 2:
		s.twoBitFixes++
	}

	if cprErr != nil {
		s.cprUnresolved++
	}

	if msg.Position != nil {
		s.positions++
		if s.receiver != nil {
			pos := geo.Latlong{Lat: msg.Position.Latitude, Long: msg.Position.Longitude}
			if d := s.receiver.DistKM(pos); d > s.maxDistanceKM {
				s.maxDistanceKM = d
			}
		}
	}
}

// Snapshot copies the current counters
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perFormat := make(map[string]uint64, len(s.perFormat))
	for df, n := range s.perFormat {
		perFormat[df.String()] = n
	}

	return Snapshot{
		Lines:              s.lines,
		Messages:           s.messages,
		PerFormat:          perFormat,
		UniqueAddresses:    len(s.addresses),
		SingleBitFixes:     s.singleBitFixes,
		TwoBitFixes:        s.twoBitFixes,
		Positions:          s.positions,
		CPRUnresolved:      s.cprUnresolved,
		Malformed:          s.malformed,
		ChecksumFailed:     s.checksumFailed,
		AddressUnconfirmed: s.addrUnconfirmed,
		MaxDistanceKM:      s.maxDistanceKM,
	}
}
