// Package ids mints request correlation identifiers.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

const maxInboundLen = 128

// New returns a lexicographically sortable ULID.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Sanitize accepts a caller-supplied correlation id when it is short and printable,
// otherwise it mints a new one.
func Sanitize(inbound string) string {
	inbound = strings.TrimSpace(inbound)
	if inbound == "" || len(inbound) > maxInboundLen {
		return New()
	}
	for _, r := range inbound {
		if r < 0x21 || r > 0x7e {
			return New()
		}
	}
	return inbound
}

// Time extracts the mint time of a ULID produced by New.
func Time(id string) (time.Time, bool) {
	u, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
