// ABOUTME: Channel subscription authorization for private chat channels
// ABOUTME: Pure decision over channel name, claimed session id, and principal

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tripline/livechat/internal/session"
)

// ChannelPrefix is the naming convention for conversation channels. The
// segment after the prefix is a canonical UUIDv4 conversation id; this is
// the bit-exact contract shared with conversation-creation logic.
const ChannelPrefix = "private-chat."

// ErrMalformedChannel means the channel name does not match
// "private-chat.<uuid4>".
var ErrMalformedChannel = errors.New("malformed channel name")

// ErrUnauthorized is the typed form of a denied grant.
var ErrUnauthorized = errors.New("unauthorized")

// Presence is the identity disclosed to other channel participants upon a
// successful subscription.
type Presence struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Grant is the ephemeral result of one authorization decision. It is never
// persisted; every subscription attempt is decided from scratch.
type Grant struct {
	Allowed  bool
	Presence *Presence
	Reason   string // set when denied, for logs and responses
}

func deny(reason string) Grant {
	return Grant{Reason: reason}
}

// Err returns nil for a granted decision, or ErrUnauthorized wrapped with
// the denial reason.
func (g Grant) Err() error {
	if g.Allowed {
		return nil
	}
	if g.Reason == "" {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, g.Reason)
}

// ParticipantStore answers whether a persisted association exists between a
// conversation and an authenticated user (a customer resuming their own chat).
type ParticipantStore interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Authorizer decides channel subscriptions. Authorize is read-only and
// side-effect-free, so it runs freely in parallel across requests.
type Authorizer struct {
	participants ParticipantStore
	logger       *slog.Logger
}

// NewAuthorizer creates an Authorizer. Pass nil logger for default.
func NewAuthorizer(participants ParticipantStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		participants: participants,
		logger:       logger.With("component", "channel"),
	}
}

// ParseChannel extracts the conversation id embedded in a channel name.
func ParseChannel(channelName string) (session.ConversationID, error) {
	rest, ok := strings.CutPrefix(channelName, ChannelPrefix)
	if !ok {
		return "", ErrMalformedChannel
	}
	id, err := session.Validate(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedChannel, err)
	}
	return id, nil
}

// Authorize decides whether the principal may subscribe to channelName.
//
// Evaluation order matters and must not be rearranged: staff roles are
// checked before the session-match branch so an agent carrying no claimed
// id is never denied by the anonymous rule.
//
//  1. Malformed channel names are denied outright.
//  2. Authenticated staff (agent or admin) are granted unconditionally;
//     takeover requires staff to observe any conversation.
//  3. Other authenticated users are granted only if a persisted participant
//     association binds them to the conversation.
//  4. Anonymous visitors are granted only if their claimed id, validated as
//     a UUIDv4, is textually equal to the channel's embedded id. Possession
//     of the id is the entire trust boundary; no fuzzy matching.
//  5. Everything else is denied.
func (a *Authorizer) Authorize(ctx context.Context, channelName, claimedConversationID string, principal Principal) Grant {
	conversationID, err := ParseChannel(channelName)
	if err != nil {
		return deny("malformed channel name")
	}

	switch p := principal.(type) {
	case Authenticated:
		if p.IsStaff() {
			return Grant{
				Allowed:  true,
				Presence: &Presence{ID: p.UserID, DisplayName: p.DisplayName},
			}
		}

		ok, err := a.participants.IsParticipant(ctx, conversationID.String(), p.UserID)
		if err != nil {
			a.logger.Error("participant lookup failed",
				"conversation_id", conversationID, "user_id", p.UserID, "error", err)
			return deny("participant lookup failed")
		}
		if !ok {
			return deny("not a participant of this conversation")
		}
		return Grant{
			Allowed:  true,
			Presence: &Presence{ID: p.UserID, DisplayName: p.DisplayName},
		}

	case Anonymous:
		if claimedConversationID == "" {
			return deny("missing conversation id")
		}
		claimed, err := session.Validate(claimedConversationID)
		if err != nil {
			return deny("invalid conversation id")
		}
		if claimed != conversationID {
			return deny("conversation id mismatch")
		}
		return Grant{
			Allowed:  true,
			Presence: &Presence{ID: "visitor-" + conversationID.String(), DisplayName: "Visitor"},
		}
	}

	return deny("unknown principal")
}
