// ABOUTME: Conversation identity validation and issuance for chat sessions
// ABOUTME: A conversation id is a canonical UUIDv4 string and nothing else

package session

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFormat is returned when a candidate string is not a canonical
// UUIDv4. Malformed ids are rejected here, before any business logic runs.
var ErrInvalidFormat = errors.New("invalid conversation id: expected UUID v4")

// ConversationID identifies one chat conversation. It is the sole correlation
// key across messages, escalation state, and the channel name. Always stored
// in canonical lowercase form.
type ConversationID string

func (id ConversationID) String() string {
	return string(id)
}

// Validate accepts only well-formed canonical UUIDv4 text (36 characters,
// hyphenated, version 4). Other UUID renderings the uuid package tolerates
// (braces, URN prefix, raw hex) are rejected: the anonymous trust boundary
// is exact textual possession of the id, so the grammar is strict.
func Validate(candidate string) (ConversationID, error) {
	if len(candidate) != 36 {
		return "", ErrInvalidFormat
	}

	parsed, err := uuid.Parse(candidate)
	if err != nil {
		return "", ErrInvalidFormat
	}

	// uuid.Parse is case-insensitive; canonical form is lowercase.
	if parsed.String() != strings.ToLower(candidate) {
		return "", ErrInvalidFormat
	}

	if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
		return "", ErrInvalidFormat
	}

	return ConversationID(parsed.String()), nil
}

// Issue generates a fresh conversation id for a visitor that has none.
func Issue() ConversationID {
	return ConversationID(uuid.NewString())
}
