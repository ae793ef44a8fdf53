// Package broker owns the relay's single session with the downstream message
// log.
//
// A Session holds one connection handle and one topic handle built from it.
// Both belong to the same initialization generation; a re-initialization
// builds a fresh pair and releases the previous one, so handles from two
// generations are never mixed. The session is a plain state holder:
//
//	Uninitialized -> Ready <-> Degraded -> ... -> Closed
//
// Retry and reconnect policy lives in the caller (see service.PublishSupervisor).
// The Client interface is the seam for the concrete broker library and for
// fault-injecting fakes in tests.
package broker
