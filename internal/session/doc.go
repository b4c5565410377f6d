// Package session detects and repairs corrupted per-recipient transport
// sessions: it clears on-disk session artifacts, waits for the transport
// to re-establish state, and retries delivery a bounded number of times.
package session
