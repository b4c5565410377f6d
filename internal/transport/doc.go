// Package transport defines the boundary contract with the external
// chat transport: the raw send primitive, the connectivity state
// observed before every send, and classification of transport errors
// into the recoverable kinds the reliability layer understands.
package transport
