package pkg

import (
	"context"
	"time"
)

// withRetry implements the orchestrator's uniform retry discipline: up to
// attempts tries, sleeping backoff between each, where an exit code of 127
// ("command not found") short-circuits immediately as fatal rather than
// being retried like any other failure.
//
// This is the only place the retry loop and the exit-127 short-circuit are
// encoded; every settling-sensitive call site (boot flag, partprobe,
// kpartx -d, umount) goes through it, each passing 3 attempts and a 1s
// backoff.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ExitCode(err) == 127 {
			return err
		}
		lastErr = err
	}
	return lastErr
}
