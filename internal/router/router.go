// ABOUTME: Per-conversation fan-out of chat events to authorized subscribers
// ABOUTME: Bounded buffers; a subscriber that falls behind is disconnected

package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultBufferSize is the per-subscriber channel buffer when none is
// configured.
const defaultBufferSize = 64

// ErrSubscriberOverrun is the reason a slow consumer is disconnected: its
// buffer filled while it wasn't reading. The consumer must re-subscribe,
// which re-runs authorization.
var ErrSubscriberOverrun = errors.New("subscriber overran its buffer")

// EventKind discriminates events on a conversation channel. Subscribers
// dispatch on the kind, never by sniffing payload shape.
type EventKind string

const (
	// KindMessageReceived carries a chat message.
	KindMessageReceived EventKind = "message-received"

	// KindStateChanged carries an escalation lifecycle change.
	KindStateChanged EventKind = "state-changed"
)

// MessagePayload is the payload for KindMessageReceived.
type MessagePayload struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StatePayload is the payload for KindStateChanged.
type StatePayload struct {
	Status          string `json:"status"`
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	Version         uint64 `json:"version"`
}

// Event is one item on a conversation's stream.
type Event struct {
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload"`
}

// Router fans chat events out to every current subscriber of a conversation.
// Authorization has already happened by the time Subscribe is called; the
// router only moves events.
//
// Delivery order across subscribers is unspecified, but each subscriber's
// own stream matches publish order: one goroutine publishes into per-
// subscriber FIFO channels, nothing reorders.
type Router struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // conversationID -> subID -> ch
	bufferSize  int
	logger      *slog.Logger
}

// New creates a Router. bufferSize <= 0 selects the default. Pass nil
// logger for default.
func New(bufferSize int, logger *slog.Logger) *Router {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		subscribers: make(map[string]map[string]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "router"),
	}
}

// Subscribe attaches a new subscriber to a conversation's stream. The
// returned channel is closed when the subscriber is disconnected: by
// Unsubscribe, by ctx cancellation, by overrunning its buffer
// (ErrSubscriberOverrun), or by router shutdown. A closed channel is the
// whole signal; the consumer cannot tell the reasons apart and reacts the
// same way to all of them, by re-subscribing, which re-runs authorization.
// The subscription id identifies the subscriber for Unsubscribe.
func (r *Router) Subscribe(ctx context.Context, conversationID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, r.bufferSize)

	r.mu.Lock()
	if _, ok := r.subscribers[conversationID]; !ok {
		r.subscribers[conversationID] = make(map[string]chan Event)
	}
	r.subscribers[conversationID][subID] = ch
	r.mu.Unlock()

	r.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	// A dropped subscription releases its slot without touching any
	// conversation state.
	go func() {
		<-ctx.Done()
		r.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers an event to every current subscriber of the conversation.
// It never blocks on a slow subscriber: one whose buffer is full is
// disconnected on the spot so the conversation keeps flowing for everyone
// else.
//
// The sends happen with the read lock held. They cannot block (buffered
// channel, default branch), and Unsubscribe closes channels only under the
// write lock, so a send can never hit a closed channel.
func (r *Router) Publish(conversationID string, event Event) {
	r.mu.RLock()
	subs := r.subscribers[conversationID]

	var overrun []string
	for subID, ch := range subs {
		select {
		case ch <- event:
		default:
			overrun = append(overrun, subID)
		}
	}
	r.mu.RUnlock()

	for _, subID := range overrun {
		r.logger.Warn("disconnecting slow subscriber",
			"conversation_id", conversationID,
			"sub_id", subID,
			"reason", ErrSubscriberOverrun)
		r.Unsubscribe(conversationID, subID)
	}
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// more than once.
func (r *Router) Unsubscribe(conversationID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(r.subscribers, conversationID)
	}

	r.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// SubscriberCount reports how many subscribers a conversation currently has.
func (r *Router) SubscriberCount(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[conversationID])
}

// Close disconnects every subscriber.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID, subs := range r.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(r.subscribers, conversationID)
	}

	r.logger.Debug("router closed")
}
