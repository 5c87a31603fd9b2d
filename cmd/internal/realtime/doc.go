// Package realtime owns the client side of the realtime connection: the
// connection state machine (dial, authenticate, steady state, reconnect
// with capped exponential backoff) and the typed dispatch bus that fans
// decoded frames out to consumers.
//
// The socket is abstracted behind Transport and all waits go through the
// clock capability, so the whole lifecycle is testable with a fake
// transport and a fake clock.
package realtime
