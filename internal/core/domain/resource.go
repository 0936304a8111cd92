package domain

// Locator is an opaque resource address. It may name a local file
// (file:// or an absolute path) or something the catalog server serves.
type Locator string

func (l Locator) String() string { return string(l) }

// CacheStats is a point-in-time view of the resource cache counters.
type CacheStats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	CurrentCount int    `json:"current_count"`
	CurrentBytes int64  `json:"current_bytes"`
}
