package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// idempotencyGCInterval is how often expired idempotency entries are compacted.
	idempotencyGCInterval = 10 * time.Minute
)
