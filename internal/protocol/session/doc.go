// Package session owns link request bookkeeping shared by the gateway.
//
// Ownership boundary:
// - command/ack timing configuration
// - correlation table of in-flight requests
// - retry/backoff primitives for link bring-up
package session
