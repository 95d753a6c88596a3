package repository

import (
	"context"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// Backend bootstrap is retried while the database container comes up.
	bootstrapAttempts = 5
	bootstrapDelay    = 1 * time.Second
	bootstrapMaxDelay = 15 * time.Second
)

// withBootstrapRetry stops retrying as soon as ctx is cancelled.
func withBootstrapRetry(ctx context.Context, backend string, fn func() error) error {
	attempt := 0
	return retry.Do(func() error {
		attempt++
		err := fn()
		if err != nil {
			log.Printf("[WARN] %s bootstrap attempt %d/%d failed: %v", backend, attempt, bootstrapAttempts, err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(bootstrapAttempts),
		retry.Delay(bootstrapDelay),
		retry.MaxDelay(bootstrapMaxDelay),
	)
}
