// Package service wires the reliability components together from a loaded
// configuration: dedupe tracker, session manager, status cache, delivery
// log, and the delivery sender business handlers call.
package service
