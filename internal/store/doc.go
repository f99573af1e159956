// Package store provides persistent storage for the chat gateway using
// SQLite.
//
// Four tables back the service: conversations (escalation snapshots, so the
// agent queue survives a restart), participants (which authenticated
// customer belongs to which conversation, the authorizer's lookup),
// messages (chat history), and roles (staff role assignments used when a
// token asserts none).
//
// The live escalation state is owned by the escalation package; the store
// only ever holds snapshots written after a transition commits.
package store
