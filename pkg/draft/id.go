package draft

import (
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

// Draft ids are draft_<unix-nanos>_<seq>. The nanosecond timestamp makes
// lexicographic order match creation order; the per-process sequence breaks
// ties when two drafts are created inside the same clock reading (fake
// clocks in tests do this constantly).
var idRegex = regexp.MustCompile(`^draft_[0-9]{19}_[0-9a-f]{4}$`)

var idSeq atomic.Uint32

// NewID mints a draft id from the supplied creation time.
func NewID(now time.Time) string {
	seq := idSeq.Add(1)
	return fmt.Sprintf("draft_%019d_%04x", now.UnixNano(), uint16(seq))
}

// ValidID reports whether id matches the draft id format.
func ValidID(id string) bool {
	return idRegex.MatchString(id)
}

// ParseIDTime extracts the creation timestamp embedded in a draft id.
func ParseIDTime(id string) (time.Time, error) {
	if !ValidID(id) {
		return time.Time{}, fmt.Errorf("invalid draft id format: %s", id)
	}
	nsStr := id[len("draft_") : len("draft_")+19]
	ns, err := strconv.ParseInt(nsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from id %s: %w", id, err)
	}
	return time.Unix(0, ns), nil
}
