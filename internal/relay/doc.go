// Package relay contains the two halves of the HTTP→chat bridge:
//
//   - Manager: the connection manager. Owns the platform session, runs the
//     Connecting/Ready/Backoff state machine in the foreground of the
//     process, and is the only goroutine that touches the Messenger after
//     connect.
//   - Bridge: the dispatch hand-off. Gateway goroutines schedule a
//     DeliveryRequest without blocking; the manager loop executes it when
//     the session is ready. Delivery is fire-and-forget: once scheduled,
//     failures are logged (and journaled), never surfaced to the HTTP caller.
package relay
