package adsb

import "time"

type icaoCacheEntry struct {
	addr uint32
	seen time.Time
	used bool
}

// ICAOCache remembers addresses seen in frames with a directly verified
// checksum. It is a fixed table indexed by a hash of the address: a new
// address landing in an occupied slot silently evicts the previous one.
// ICAOCache is not safe for concurrent use; the Decoder serialises access.
type ICAOCache struct {
	slots []icaoCacheEntry
	mask  uint32
	ttl   time.Duration
}

// NewICAOCache creates a cache with size slots (rounded up to a power of
// two) whose entries expire after ttl
func NewICAOCache(size int, ttl time.Duration) *ICAOCache {
	if size <= 0 {
		size = DefaultICAOCacheSize
	}
	n := 1
	for n < size {
		n <<= 1
	}
	if ttl <= 0 {
		ttl = DefaultICAOCacheTTL
	}
	return &ICAOCache{
		slots: make([]icaoCacheEntry, n),
		mask:  uint32(n - 1),
		ttl:   ttl,
	}
}

// Size returns the number of slots
func (c *ICAOCache) Size() int {
	return len(c.slots)
}

// TTL returns the entry lifetime
func (c *ICAOCache) TTL() time.Duration {
	return c.ttl
}

// hash mixes the address bits so nearby addresses spread over the table
func (c *ICAOCache) hash(a uint32) uint32 {
	a = ((a >> 16) ^ a) * icaoCacheHashMultiply
	a = ((a >> 16) ^ a) * icaoCacheHashMultiply
	a = (a >> 16) ^ a
	return a & c.mask
}

// Insert records addr as seen at now, overwriting whatever shared its slot
func (c *ICAOCache) Insert(addr uint32, now time.Time) {
	c.slots[c.hash(addr)] = icaoCacheEntry{addr: addr, seen: now, used: true}
}

// Lookup reports whether addr occupies its slot and was seen within the TTL
func (c *ICAOCache) Lookup(addr uint32, now time.Time) bool {
	e := c.slots[c.hash(addr)]
	return e.used && e.addr == addr && now.Sub(e.seen) <= c.ttl
}
