// ABOUTME: Store interface and data types for livechat-gateway persistence
// ABOUTME: Conversations, participants, messages, and role assignments

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Conversation is the persisted record of one chat conversation. The live
// escalation state is owned by the escalation machine; the store holds a
// snapshot so escalation queues survive a restart.
type Conversation struct {
	ID              string
	Status          string
	AssignedAgentID *string
	Version         uint64
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// Message is a single chat message within a conversation.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	CreatedAt      time.Time
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	UpsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversationsByStatus(ctx context.Context, status string, limit int) ([]*Conversation, error)

	// Participants (authenticated customers bound to their own conversations)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// Messages (history)
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Roles
	AddRole(ctx context.Context, userID string, role RoleName) error
	RemoveRole(ctx context.Context, userID string, role RoleName) error
	HasRole(ctx context.Context, userID string, role RoleName) (bool, error)
	ListRoles(ctx context.Context, userID string) ([]RoleName, error)

	// Close releases any resources held by the store
	Close() error
}
