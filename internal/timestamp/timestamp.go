// Package timestamp resolves the microsecond timestamps stamped on monitor packets.
package timestamp

import (
	"time"

	"github.com/benbjohnson/clock"
)

// RefEpoch is 2016-01-01T00:00:00Z. A wall clock reading before it means the
// real-time clock was never set.
var RefEpoch = time.Unix(1451606400, 0).UTC()

// Source prefers wall-clock time and falls back to uptime since the source
// was created.
type Source struct {
	clock clock.Clock
	boot  time.Time
}

func New(c clock.Clock) *Source {
	if c == nil {
		c = clock.New()
	}
	return &Source{clock: c, boot: c.Now()}
}

// Now never fails; worst case it returns uptime.
func (s *Source) Now() uint64 {
	now := s.clock.Now()
	if now.IsZero() || now.Before(RefEpoch) {
		return s.Uptime()
	}
	return uint64(now.UnixMicro())
}

func (s *Source) Uptime() uint64 {
	d := s.clock.Since(s.boot)
	if d < 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
