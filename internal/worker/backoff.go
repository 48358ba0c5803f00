package worker

import "time"

// RetryDelay returns the backoff before the next attempt, given the
// number of attempts already made (the just-failed attempt excluded).
// Indexes past the end of the table clamp to its last entry.
func RetryDelay(delays []time.Duration, attemptsMade int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if attemptsMade < 0 {
		attemptsMade = 0
	}
	if attemptsMade >= len(delays) {
		attemptsMade = len(delays) - 1
	}
	return delays[attemptsMade]
}
