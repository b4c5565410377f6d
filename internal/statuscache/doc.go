// Package statuscache wraps a slow, unreliable status fetch with a short
// fresh window and a much longer fallback window, so callers always get
// something renderable: live data, recently cached data, or stale data
// clearly marked as a fallback.
package statuscache
