// ABOUTME: Per-conversation escalation lifecycle with optimistic takeover
// ABOUTME: BotOnly -> EscalationRequested -> Assigned -> Resolved, one agent at a time

package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Lifecycle errors
var (
	// ErrInvalidTransition means the requested transition is not allowed
	// from the conversation's current status.
	ErrInvalidTransition = errors.New("invalid escalation transition")

	// ErrStaleAssignment means a takeover lost a race: the supplied version
	// no longer matches. The caller may re-read state and retry deliberately.
	ErrStaleAssignment = errors.New("stale assignment version")
)

// Status is the escalation lifecycle status of a conversation.
type Status string

const (
	StatusBotOnly             Status = "bot_only"
	StatusEscalationRequested Status = "escalation_requested"
	StatusAssigned            Status = "assigned"
	StatusResolved            Status = "resolved"
)

// State is a snapshot of one conversation's escalation state.
// AssignedAgentID is non-empty if and only if Status is StatusAssigned.
type State struct {
	ConversationID  string
	Status          Status
	AssignedAgentID string
	LastActivityAt  time.Time
	Version         uint64
}

// entry holds the live state for one conversation behind its own lock, so
// unrelated conversations never contend.
type entry struct {
	mu    sync.Mutex
	state State
}

// Machine owns the escalation state of every active conversation. All
// mutations go through its transition methods; callers only ever see
// value snapshots.
type Machine struct {
	mu            sync.RWMutex
	conversations map[string]*entry
	logger        *slog.Logger
}

// NewMachine creates a Machine. Pass nil logger for default.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		conversations: make(map[string]*entry),
		logger:        logger.With("component", "escalation"),
	}
}

// lookup returns the entry for a conversation, creating it in StatusBotOnly
// on first touch.
func (m *Machine) lookup(conversationID string) *entry {
	m.mu.RLock()
	e, ok := m.conversations[conversationID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.conversations[conversationID]; ok {
		return e
	}
	e = &entry{state: State{
		ConversationID: conversationID,
		Status:         StatusBotOnly,
		LastActivityAt: time.Now(),
	}}
	m.conversations[conversationID] = e
	return e
}

// Touch records activity on a conversation, creating it in StatusBotOnly if
// it is new. Called on every inbound message.
func (m *Machine) Touch(conversationID string) State {
	e := m.lookup(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastActivityAt = time.Now()
	return e.state
}

// CurrentState returns a read-only snapshot. Unknown conversations report a
// fresh StatusBotOnly state without being created.
func (m *Machine) CurrentState(conversationID string) State {
	m.mu.RLock()
	e, ok := m.conversations[conversationID]
	m.mu.RUnlock()
	if !ok {
		return State{ConversationID: conversationID, Status: StatusBotOnly}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RequestEscalation moves StatusBotOnly to StatusEscalationRequested. It is
// an idempotent no-op when escalation is already requested or an agent is
// already assigned, and fails on resolved conversations.
func (m *Machine) RequestEscalation(conversationID string) (State, error) {
	e := m.lookup(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state.Status {
	case StatusBotOnly:
		e.state.Status = StatusEscalationRequested
		e.state.Version++
		e.state.LastActivityAt = time.Now()
		m.logger.Info("escalation requested", "conversation_id", conversationID, "version", e.state.Version)
	case StatusEscalationRequested, StatusAssigned:
		// Already escalated; repeated requests are harmless.
	case StatusResolved:
		return e.state, fmt.Errorf("%w: cannot escalate a resolved conversation", ErrInvalidTransition)
	}
	return e.state, nil
}

// Takeover assigns an agent to a conversation via compare-and-set on the
// version the caller last observed. Exactly one of two racing callers wins;
// the loser gets ErrStaleAssignment and must re-read before retrying.
// Resolved conversations cannot be taken over.
func (m *Machine) Takeover(conversationID, agentID string, version uint64) (State, error) {
	e := m.lookup(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status == StatusResolved {
		return e.state, fmt.Errorf("%w: conversation is resolved", ErrInvalidTransition)
	}
	if e.state.Version != version {
		return e.state, fmt.Errorf("%w: have %d, caller observed %d", ErrStaleAssignment, e.state.Version, version)
	}

	prev := e.state.AssignedAgentID
	e.state.Status = StatusAssigned
	e.state.AssignedAgentID = agentID
	e.state.Version++
	e.state.LastActivityAt = time.Now()

	if prev != "" && prev != agentID {
		m.logger.Info("conversation reassigned",
			"conversation_id", conversationID, "from_agent", prev, "to_agent", agentID, "version", e.state.Version)
	} else {
		m.logger.Info("conversation taken over",
			"conversation_id", conversationID, "agent_id", agentID, "version", e.state.Version)
	}
	return e.state, nil
}

// ResetAssignment hands an assigned conversation back to the bot. Only valid
// from StatusAssigned.
func (m *Machine) ResetAssignment(conversationID string) (State, error) {
	e := m.lookup(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != StatusAssigned {
		return e.state, fmt.Errorf("%w: reset requires an assigned conversation, status is %s",
			ErrInvalidTransition, e.state.Status)
	}

	agentID := e.state.AssignedAgentID
	e.state.Status = StatusBotOnly
	e.state.AssignedAgentID = ""
	e.state.Version++
	e.state.LastActivityAt = time.Now()

	m.logger.Info("assignment reset", "conversation_id", conversationID, "released_agent", agentID, "version", e.state.Version)
	return e.state, nil
}

// Resolve terminates a conversation from any non-resolved status. Resolved
// is terminal: a fresh conversation id must be issued to chat again.
func (m *Machine) Resolve(conversationID string) (State, error) {
	e := m.lookup(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status == StatusResolved {
		return e.state, fmt.Errorf("%w: conversation already resolved", ErrInvalidTransition)
	}

	e.state.Status = StatusResolved
	e.state.AssignedAgentID = ""
	e.state.Version++
	e.state.LastActivityAt = time.Now()

	m.logger.Info("conversation resolved", "conversation_id", conversationID, "version", e.state.Version)
	return e.state, nil
}

// Sweep removes resolved conversations idle for longer than retention and
// returns how many were collected.
func (m *Machine) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.conversations {
		e.mu.Lock()
		stale := e.state.Status == StatusResolved && e.state.LastActivityAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(m.conversations, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept resolved conversations", "removed", removed)
	}
	return removed
}

// StartJanitor runs Sweep on a ticker until ctx is cancelled.
func (m *Machine) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(retention)
			}
		}
	}()
}
