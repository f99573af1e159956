// Package chat is the high-level conversation service.
//
// It sits between the HTTP handlers and the lower layers, tying together
// the store (history and snapshots), the escalation machine (lifecycle),
// the router (fan-out to live subscribers), the bot (automated replies
// while a conversation is bot-handled), and the optional broker mirror.
//
// The ordering principle is record first, then act: a message is persisted
// before it is delivered anywhere, and a lifecycle transition commits in
// the machine before subscribers or the broker hear about it.
package chat
