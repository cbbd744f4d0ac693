package engine

import "time"

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	SearchCompleted(d time.Duration, results int)
	IngestCompleted(op string, n int)
	RebuildCompleted(d time.Duration, version uint64)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) SearchCompleted(time.Duration, int)     {}
func (NoopObserver) IngestCompleted(string, int)            {}
func (NoopObserver) RebuildCompleted(time.Duration, uint64) {}
