package schedule

import (
	"hash/fnv"
	"time"
)

// MaxSpread caps the startup offset returned by Spread.
const MaxSpread = 30 * time.Second

// Spread returns a stable offset in [0, min(every, MaxSpread)) derived from
// tag. Periodic items declared together use it as their first delay so they
// don't all fire on the same tick.
func Spread(every time.Duration, tag string) time.Duration {
	limit := min(every, MaxSpread)
	if limit <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	return time.Duration(h.Sum64() % uint64(limit))
}
