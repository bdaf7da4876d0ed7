package driving

import "context"

// Scheduler runs background tasks such as the pending-chunk re-index sweep.
type Scheduler interface {
	// Start runs scheduled tasks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop waits for running tasks and returns.
	Stop() error
}
