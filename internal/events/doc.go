// Package events mirrors conversation lifecycle changes to an AMQP topic
// exchange.
//
// The booking platform subscribes to "livechat.conversation.*" routing keys
// to surface escalation queues in its back office. The mirror is optional:
// when no broker is configured the chat service simply runs without one.
package events
