// Package gateway wires the livechat components into an HTTP service.
//
// It owns construction and lifecycle: the SQLite store, the escalation
// machine and its janitor, the event router, the chat service, the channel
// authorizer, and the optional broker mirror. The HTTP surface serves
// anonymous visitors and authenticated staff on the same endpoints; who the
// caller is only matters when the channel authorizer decides a subscription
// or a handler gates a staff action.
package gateway
