package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix is prepended to every checkpoint key.
const KeyPrefix = "assetview:checkpoint"

// PageKey identifies one page of one query's result set.
type PageKey struct {
	// Endpoint is the AssetView URL.
	Endpoint string

	// Filter and Having are the query and having expressions.
	Filter string
	Having string

	// Total is the count captured by the probe for this run.
	Total int

	// PageSize is the configured page size.
	PageSize int

	// Offset of the page.
	Offset int
}

// QueryHash returns a short, stable digest of endpoint, filter and having.
func (k PageKey) QueryHash() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimRight(k.Endpoint, "/"),
		k.Filter,
		k.Having,
	}, "\x00")))
	return hex.EncodeToString(sum[:8])
}

// Prefix returns the key prefix shared by all offsets of this result set.
//
// Example:
//
//	assetview:checkpoint:3f2a9c0d1e4b5a67:total=320:size=150
func (k PageKey) Prefix() string {
	return fmt.Sprintf("%s:%s:total=%d:size=%d", KeyPrefix, k.QueryHash(), k.Total, k.PageSize)
}

// String generates the deterministic Redis key for the page.
func (k PageKey) String() string {
	return fmt.Sprintf("%s:offset=%d", k.Prefix(), k.Offset)
}

// WithOffset returns a copy of k for another offset.
func (k PageKey) WithOffset(offset int) PageKey {
	k.Offset = offset
	return k
}
