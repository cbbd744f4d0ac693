package engine

import "time"

// RebuildPolicy decides when the background rebuild runs. All triggers
// funnel through a single rate-limited worker, so a burst of deletes
// cannot stack rebuilds.
type RebuildPolicy struct {
	// DeleteRatio triggers a rebuild when dead ids / indexed ids reaches
	// the ratio. Zero disables the trigger.
	DeleteRatio float64

	// MinRecords suppresses ratio triggers below this record count.
	MinRecords int

	// Interval triggers periodic rebuilds. Zero disables them.
	Interval time.Duration

	// MinInterval is the floor between two automatic rebuilds.
	MinInterval time.Duration
}

// DefaultRebuildPolicy rebuilds at 20% dead ids, at most once a minute.
var DefaultRebuildPolicy = RebuildPolicy{
	DeleteRatio: 0.2,
	MinRecords:  1000,
	MinInterval: time.Minute,
}
