package adsb

import "time"

// Mode S frame lengths
const (
	LongMsgBits   = 112
	ShortMsgBits  = 56
	LongMsgBytes  = LongMsgBits / 8
	ShortMsgBytes = ShortMsgBits / 8
)

// AIS 6-bit character set used by the identification message.
// '#' marks unused codes, '_' is the space symbol.
const AISCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ#####_###############0123456789######"

// CPR decoding constants
const (
	CPR_LAT_BITS = 17
	CPR_LON_BITS = 17
	CPR_LAT_MAX  = 131072 // 2^17
	CPR_LON_MAX  = 131072 // 2^17

	// Number of latitude zones between the equator and a pole
	CPR_NZ = 15
)

// Defaults for the decoding session state
const (
	DefaultICAOCacheSize  = 1024
	DefaultICAOCacheTTL   = 60 * time.Second
	DefaultCPRPairWindow  = 10 * time.Second
	icaoCacheHashMultiply = 0x45d9f3b
)
