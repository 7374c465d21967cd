// Package eventbus multiplexes server-pushed pipeline and draft events to
// in-process subscribers.
//
// A Bus owns one connection obtained from a Transport. Status subscriptions
// are keyed by interview ID: the first subscriber for a key joins the
// server-side room, the last one to leave sends leave-interview. When the
// connection drops the bus redials with exponential backoff and re-joins every
// room that still has subscribers. Subscriber callbacks run outside the bus
// lock and a panicking callback is logged without affecting the others.
package eventbus
