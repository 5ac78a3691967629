package adsb

import "errors"

// Decode errors. None of them is fatal to a feed: the offending line is
// dropped (or, for ErrCPRUnresolved, decoded without a position).
var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrChecksumFailed     = errors.New("checksum failed")
	ErrAddressUnconfirmed = errors.New("address not recently seen")
	ErrCPRUnresolved      = errors.New("cpr position unresolved")
)
