package build

import "time"

// BulkQueryTimeout is the hard cutoff for the historical relay query.
// When it fires, whatever events have been collected so far are
// processed; the rest are expected to trickle in over the live
// subscription.
const BulkQueryTimeout = 5 * time.Second

// Retry parameters for the load orchestrator.
const (
	LoadRetryMin      = time.Second
	LoadRetryMax      = 5 * time.Minute
	LoadRetryFactor   = 2
	LoadRetryAttempts = 5
)

// SeenEventCacheSize bounds the duplicate-suppression cache in the
// relay client. Events are redelivered across relays and on
// subscription restarts, so this needs to comfortably cover the
// working set of a bulk load.
const SeenEventCacheSize = 8192
