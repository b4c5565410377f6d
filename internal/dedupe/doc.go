// Package dedupe suppresses duplicate outbound notifications by tracking
// recently sent recipient/content keys for a configurable window.
package dedupe
