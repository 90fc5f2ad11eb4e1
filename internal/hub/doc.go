// Package hub implements the fan-out broadcaster.
//
// Each attached subscriber owns a buffered outbound channel wrapped in a
// cancellable Subscription handle. Publish consults the registry for the
// event's instrument and delivers to every match within a bounded timeout; a
// subscriber that cannot be delivered to is dropped entirely — channel
// closed, registry entry removed, upstream delta forwarded — so dead
// subscribers never linger. Publish runs on the dispatcher's single
// goroutine, which preserves per-instrument ordering for every subscriber.
package hub
