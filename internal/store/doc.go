// Package store persists the delivery log: one row per outbound send
// outcome, kept for operational visibility and post-incident review.
package store
