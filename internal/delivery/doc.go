// Package delivery turns the dedupe tracker and the raw transport send
// into a single safe send operation: duplicates are blocked, the
// connectivity gate is checked first, and recoverable transport failures
// are retried with backoff before being downgraded to an error result.
package delivery
