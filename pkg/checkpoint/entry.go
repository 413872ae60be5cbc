package checkpoint

import (
	"encoding/json"
	"time"
)

// Entry is a stored page.
type Entry struct {
	// Data is the raw JSON page payload.
	Data json.RawMessage `json:"data"`

	// StoredAt is when the page was fetched.
	StoredAt time.Time `json:"stored_at"`

	// Expires is when the checkpoint stops being usable.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
