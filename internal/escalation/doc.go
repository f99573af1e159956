// Package escalation owns the lifecycle of every chat conversation from
// bot-handled to human-assigned to resolved.
//
// # Lifecycle
//
//	BotOnly -> EscalationRequested -> Assigned -> Resolved
//
// Reset returns Assigned to BotOnly (agent hands back to the bot).
// Resolved is terminal; resuming requires a brand-new conversation id.
//
// # Single assignment
//
// At most one agent is assigned to a conversation at any instant. Takeover
// is a compare-and-set on a per-conversation version counter: two agents
// racing with the same observed version see exactly one success, the other
// receives ErrStaleAssignment and decides for itself whether to re-read and
// retry. Retry policy is always the caller's, since only the caller knows
// whether the action is still wanted after losing a race.
//
// # Concurrency
//
// Each conversation's state sits behind its own mutex inside an arena map,
// so unrelated conversations never contend. Snapshots are plain values;
// nothing outside the package can mutate state directly.
package escalation
