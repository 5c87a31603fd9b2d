// Package chat keeps the client's conversation state synchronized across
// the REST history endpoints and the realtime frame stream: per-match
// message order with duplicate suppression, unread counters, typing
// indicator decay, and read-receipt reconciliation.
//
// Read status is written by realtime read_receipt frames only. The REST
// history path never marks a message read, so the two transports cannot
// race on the same field.
package chat
