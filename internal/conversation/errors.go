package conversation

import "errors"

// Sentinel errors for store operations, checked with errors.Is.
var (
	// ErrNotFound indicates the requested conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
)

// Pagination limits for message listing.
const (
	// DefaultMessageLimit is the default page size for Messages.
	DefaultMessageLimit int32 = 100

	// MaxMessageLimit is the absolute page-size ceiling.
	MaxMessageLimit int32 = 1000
)

// NormalizeLimit clamps a caller-supplied page size into the valid range.
func NormalizeLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}
