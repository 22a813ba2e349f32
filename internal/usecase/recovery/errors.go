package recovery

import "errors"

// Sentinel errors delivered through a Future. The coordinator itself never
// returns errors from its recovery operations; failures become nil results.
var (
	// ErrRecoveryDropped indicates that a queued request was evicted because
	// the queue reached its depth limit and a newer request arrived.
	ErrRecoveryDropped = errors.New("recovery request dropped: queue full")

	// ErrQueueFull indicates that a request was rejected because the queue
	// is full and holds only priority requests.
	ErrQueueFull = errors.New("recovery queue full")
)
