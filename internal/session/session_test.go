// ABOUTME: Tests for conversation id validation and issuance
// ABOUTME: Covers canonical UUIDv4 acceptance and rejection of every other shape

package session

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsCanonicalV4(t *testing.T) {
	id, err := Validate("a3bb189e-8bf9-3888-9912-ace4e6543002")
	// That one is version 3, not 4
	require.Error(t, err)
	assert.Empty(t, id)

	raw := uuid.NewString()
	id, err = Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, ConversationID(raw), id)
}

func TestValidate_AcceptsUppercaseAndCanonicalizes(t *testing.T) {
	raw := uuid.NewString()
	id, err := Validate(strings.ToUpper(raw))
	require.NoError(t, err)
	assert.Equal(t, ConversationID(raw), id, "canonical form is lowercase")
}

func TestValidate_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"garbage", "not-a-uuid"},
		{"too short", "123e4567-e89b-12d3-a456"},
		{"braced", "{a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11}"},
		{"urn prefix", "urn:uuid:a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11"},
		{"raw hex no hyphens", "a0eebc999c0b4ef8bb6d6bb9bd380a11"},
		{"version 1", "c2d7f6e0-8b1a-11ee-b9d1-0242ac120002"},
		{"nil uuid", "00000000-0000-0000-0000-000000000000"},
		{"trailing newline", uuid.NewString() + "\n"},
		{"leading space", " " + uuid.NewString()},
		{"sql injection", "'; DROP TABLE conversations;--"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.candidate)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestIssue_ProducesValidIDs(t *testing.T) {
	seen := make(map[ConversationID]bool)
	for i := 0; i < 100; i++ {
		id := Issue()
		validated, err := Validate(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, validated)
		assert.False(t, seen[id], "issued ids must not repeat")
		seen[id] = true
	}
}
