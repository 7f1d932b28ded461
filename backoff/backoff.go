// Package backoff implements the reconnect backoff table shared by the
// master connector, peer-gate connector, and gate connector: failures
// map to a fixed delay sequence rather than exponential computation, so
// every reconnecting component waits the same, easily-reasoned-about
// amount of time after N consecutive failures.
package backoff

import "time"

// table[n] is the delay applied before the (n+1)th dial attempt, once n
// consecutive failures have occurred. Values beyond the table's length
// repeat the last entry.
var table = []time.Duration{
	0, 0, 1 * time.Second, 2 * time.Second, 4 * time.Second,
	6 * time.Second, 8 * time.Second, 8 * time.Second,
}

// Delay returns the backoff to wait before dialing again after
// failureCount consecutive failures (0 means this is the first attempt).
func Delay(failureCount int) time.Duration {
	if failureCount < 0 {
		failureCount = 0
	}
	if failureCount >= len(table) {
		return table[len(table)-1]
	}
	return table[failureCount]
}
