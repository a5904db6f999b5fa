package ports

import (
	"context"
	"time"
)

// CounterStore keeps small shared counters: the daily provider-call tally and
// the windowed counters behind inbound rate limiting.
type CounterStore interface {
	// Acquire attempts a slot in the given scope for the provided window.
	// ratePerWindow is the maximum allowed **successful** acquires in the window.
	// Returns (true,nil) if granted; (false,nil) if rate-limited.
	Acquire(ctx context.Context, scope string, ratePerWindow int, window time.Duration) (bool, error)

	// Incr adds n to the counter at key and returns the new value. The counter
	// expires after ttl from its first write.
	Incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// Count returns the current value at key, 0 if absent.
	Count(ctx context.Context, key string) (int64, error)
}
