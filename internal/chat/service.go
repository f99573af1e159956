// ABOUTME: Chat service coordinating persistence, escalation, and fan-out
// ABOUTME: All messages flow through here - history first, then delivery

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tripline/livechat/internal/escalation"
	"github.com/tripline/livechat/internal/events"
	"github.com/tripline/livechat/internal/router"
	"github.com/tripline/livechat/internal/session"
	"github.com/tripline/livechat/internal/store"
)

// persistTimeout bounds background writes so persistence continues even if
// the request context is cancelled.
const persistTimeout = 5 * time.Second

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	UpsertConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Service is the central conversation layer: it records messages before
// delivering them, drives the escalation machine, and broadcasts every
// change to current subscribers.
type Service struct {
	store     ConversationStore
	machine   *escalation.Machine
	router    *router.Router
	bot       Bot
	publisher events.Publisher // nil when no broker is configured
	logger    *slog.Logger
}

// NewService creates a chat Service. publisher may be nil; logger may be nil
// for default.
func NewService(st ConversationStore, machine *escalation.Machine, r *router.Router, bot Bot, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		machine:   machine,
		router:    r,
		bot:       bot,
		publisher: publisher,
		logger:    logger.With("component", "chat"),
	}
}

// StartConversation issues a fresh conversation id, registers it with the
// escalation machine, and snapshots the initial state. A non-empty userID
// is recorded as a participant so the customer can resume after login.
func (s *Service) StartConversation(ctx context.Context, userID string) (string, error) {
	conversationID := session.Issue().String()
	state := s.machine.Touch(conversationID)
	s.snapshot(state)

	if userID != "" {
		if err := s.store.AddParticipant(ctx, conversationID, userID); err != nil {
			return "", fmt.Errorf("recording participant: %w", err)
		}
	}

	s.logger.Info("conversation started", "conversation_id", conversationID)
	return conversationID, nil
}

// SendMessage records a message, fans it out to subscribers, and, while the
// conversation is still bot-handled, kicks off an automated reply.
//
// Record first, then act: the message is saved before any delivery so a
// record exists even if fan-out or the bot fails.
func (s *Service) SendMessage(ctx context.Context, conversationID, sender, text string) (*store.Message, error) {
	// Check before touching: a rejected send must not refresh activity on a
	// resolved conversation, or the retention janitor would never collect it.
	if s.machine.CurrentState(conversationID).Status == escalation.StatusResolved {
		return nil, fmt.Errorf("%w: conversation is resolved", escalation.ErrInvalidTransition)
	}
	state := s.machine.Touch(conversationID)

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}
	s.snapshot(state)

	s.logger.Debug("message recorded",
		"conversation_id", conversationID, "message_id", msg.ID, "sender", sender)

	s.router.Publish(conversationID, router.Event{
		Kind: router.KindMessageReceived,
		Payload: router.MessagePayload{
			Sender:    sender,
			Text:      text,
			Timestamp: msg.CreatedAt,
		},
	})

	if state.Status == escalation.StatusBotOnly && sender != BotSender {
		go s.botReply(conversationID, text)
	}

	return msg, nil
}

// botReply asks the bot for an answer and sends it as a regular message.
func (s *Service) botReply(conversationID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, err := s.bot.Reply(ctx, conversationID, text)
	if err != nil {
		s.logger.Error("bot reply failed", "conversation_id", conversationID, "error", err)
		return
	}
	if reply == "" {
		return
	}

	if _, err := s.SendMessage(ctx, conversationID, BotSender, reply); err != nil {
		s.logger.Error("sending bot reply failed", "conversation_id", conversationID, "error", err)
	}
}

// RequestEscalation asks for a human agent on a conversation.
func (s *Service) RequestEscalation(ctx context.Context, conversationID string) (escalation.State, error) {
	state, err := s.machine.RequestEscalation(conversationID)
	if err != nil {
		return state, err
	}
	s.afterTransition(ctx, state)
	return state, nil
}

// Takeover assigns an agent, passing the caller's observed version through
// to the machine's compare-and-set. A stale version comes back verbatim as
// escalation.ErrStaleAssignment; deciding whether to re-read and retry is
// the caller's business.
func (s *Service) Takeover(ctx context.Context, conversationID, agentID string, version uint64) (escalation.State, error) {
	state, err := s.machine.Takeover(conversationID, agentID, version)
	if err != nil {
		return state, err
	}
	s.afterTransition(ctx, state)
	return state, nil
}

// ResetAssignment hands an assigned conversation back to the bot.
func (s *Service) ResetAssignment(ctx context.Context, conversationID string) (escalation.State, error) {
	state, err := s.machine.ResetAssignment(conversationID)
	if err != nil {
		return state, err
	}
	s.afterTransition(ctx, state)
	return state, nil
}

// Resolve terminates a conversation.
func (s *Service) Resolve(ctx context.Context, conversationID string) (escalation.State, error) {
	state, err := s.machine.Resolve(conversationID)
	if err != nil {
		return state, err
	}
	s.afterTransition(ctx, state)
	return state, nil
}

// Status returns the current escalation snapshot for a conversation.
func (s *Service) Status(conversationID string) escalation.State {
	return s.machine.CurrentState(conversationID)
}

// History returns up to limit messages in chronological order.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit)
}

// AddParticipant binds an authenticated customer to their conversation so
// they can resume it after logging in.
func (s *Service) AddParticipant(ctx context.Context, conversationID, userID string) error {
	return s.store.AddParticipant(ctx, conversationID, userID)
}

// afterTransition persists the new snapshot, notifies subscribers, and
// mirrors the change to the broker if one is configured.
func (s *Service) afterTransition(ctx context.Context, state escalation.State) {
	s.snapshot(state)

	s.router.Publish(state.ConversationID, router.Event{
		Kind: router.KindStateChanged,
		Payload: router.StatePayload{
			Status:          string(state.Status),
			AssignedAgentID: state.AssignedAgentID,
			Version:         state.Version,
		},
	})

	if s.publisher != nil {
		change := events.StateChange{
			ConversationID:  state.ConversationID,
			Status:          string(state.Status),
			AssignedAgentID: state.AssignedAgentID,
			Version:         state.Version,
			OccurredAt:      state.LastActivityAt,
		}
		if err := s.publisher.PublishStateChange(ctx, change); err != nil {
			// The broker mirror is best-effort; the transition already
			// committed locally.
			s.logger.Error("mirroring state change failed",
				"conversation_id", state.ConversationID, "error", err)
		}
	}
}

// snapshot writes the conversation state to the store with its own timeout
// context, so a cancelled request cannot lose the write.
func (s *Service) snapshot(state escalation.State) {
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	assigned := (*string)(nil)
	if state.AssignedAgentID != "" {
		assigned = &state.AssignedAgentID
	}
	conv := &store.Conversation{
		ID:              state.ConversationID,
		Status:          string(state.Status),
		AssignedAgentID: assigned,
		Version:         state.Version,
		CreatedAt:       state.LastActivityAt,
		LastActivityAt:  state.LastActivityAt,
	}
	if err := s.store.UpsertConversation(saveCtx, conv); err != nil {
		s.logger.Error("persisting conversation snapshot failed",
			"conversation_id", state.ConversationID, "error", err)
	}
}
