// Package router provides in-memory fan-out of chat events, one stream per
// conversation.
//
// Subscribers attach after the channel package has granted them access and
// receive events over a bounded buffered channel. Per-subscriber delivery
// order matches publish order; there is no ordering guarantee across
// conversations and none is needed.
//
// Publish never waits for a slow reader. A subscriber whose buffer fills is
// disconnected (its channel closes) and has to re-subscribe, which sends it
// back through authorization; one stalled browser tab cannot hold up a
// conversation for everyone else.
package router
