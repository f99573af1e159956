// ABOUTME: Tests for channel authorization across both identity models
// ABOUTME: Covers staff bypass, participant lookup, anonymous exact-match, denials

package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripline/livechat/internal/session"
)

// fakeParticipants is an in-memory ParticipantStore for tests.
type fakeParticipants struct {
	members map[string]string // conversationID -> userID
	err     error
}

func (f *fakeParticipants) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[conversationID] == userID, nil
}

func newAuthorizer(participants *fakeParticipants) *Authorizer {
	if participants == nil {
		participants = &fakeParticipants{}
	}
	return NewAuthorizer(participants, nil)
}

func channelFor(id session.ConversationID) string {
	return ChannelPrefix + id.String()
}

func TestParseChannel(t *testing.T) {
	id := session.Issue()

	parsed, err := ParseChannel(channelFor(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, name := range []string{
		"",
		"private-chat.",
		"private-chat.not-a-uuid",
		"public-chat." + id.String(),
		id.String(),
		"private-chat." + id.String() + ".extra",
	} {
		_, err := ParseChannel(name)
		assert.ErrorIs(t, err, ErrMalformedChannel, "name %q", name)
	}
}

func TestAuthorize_StaffGrantedUnconditionally(t *testing.T) {
	a := newAuthorizer(nil)
	id := session.Issue()

	for _, roles := range [][]Role{
		{RoleAgent},
		{RoleAdmin},
		{RoleVisitor, RoleAgent},
	} {
		agent := Authenticated{UserID: "u-7", DisplayName: "Dana", Roles: roles}

		// No claimed id, wrong claimed id: staff never hit the anonymous branch.
		for _, claimed := range []string{"", "bogus", session.Issue().String()} {
			grant := a.Authorize(context.Background(), channelFor(id), claimed, agent)
			require.True(t, grant.Allowed, "roles %v claimed %q", roles, claimed)
			require.NotNil(t, grant.Presence)
			assert.Equal(t, "u-7", grant.Presence.ID)
			assert.Equal(t, "Dana", grant.Presence.DisplayName)
		}
	}
}

func TestAuthorize_StaffDeniedOnMalformedChannel(t *testing.T) {
	a := newAuthorizer(nil)
	agent := Authenticated{UserID: "u-7", Roles: []Role{RoleAdmin}}

	grant := a.Authorize(context.Background(), "private-chat.oops", "", agent)
	assert.False(t, grant.Allowed)
}

func TestAuthorize_AuthenticatedCustomer(t *testing.T) {
	id := session.Issue()
	participants := &fakeParticipants{members: map[string]string{id.String(): "u-42"}}
	a := newAuthorizer(participants)

	owner := Authenticated{UserID: "u-42", DisplayName: "Sam", Roles: []Role{RoleVisitor}}
	grant := a.Authorize(context.Background(), channelFor(id), "", owner)
	require.True(t, grant.Allowed)
	assert.Equal(t, "u-42", grant.Presence.ID)

	stranger := Authenticated{UserID: "u-99", DisplayName: "Kim", Roles: []Role{RoleVisitor}}
	grant = a.Authorize(context.Background(), channelFor(id), "", stranger)
	assert.False(t, grant.Allowed)

	// A claimed id must not rescue a non-participant customer.
	grant = a.Authorize(context.Background(), channelFor(id), id.String(), stranger)
	assert.False(t, grant.Allowed)
}

func TestAuthorize_ParticipantLookupErrorDenies(t *testing.T) {
	a := newAuthorizer(&fakeParticipants{err: errors.New("db gone")})
	id := session.Issue()

	customer := Authenticated{UserID: "u-42", Roles: []Role{RoleVisitor}}
	grant := a.Authorize(context.Background(), channelFor(id), "", customer)
	assert.False(t, grant.Allowed)
}

func TestAuthorize_AnonymousExactMatch(t *testing.T) {
	a := newAuthorizer(nil)
	id := session.Issue()

	grant := a.Authorize(context.Background(), channelFor(id), id.String(), Anonymous{})
	require.True(t, grant.Allowed)
	require.NotNil(t, grant.Presence)
	assert.Equal(t, "visitor-"+id.String(), grant.Presence.ID)
	assert.Equal(t, "Visitor", grant.Presence.DisplayName)
}

func TestAuthorize_AnonymousUppercaseClaimCanonicalizes(t *testing.T) {
	a := newAuthorizer(nil)
	id := session.Issue()

	// Canonical UUID casing is the only normalization permitted.
	grant := a.Authorize(context.Background(), channelFor(id), strings.ToUpper(id.String()), Anonymous{})
	assert.True(t, grant.Allowed)
}

func TestAuthorize_AnonymousDenials(t *testing.T) {
	a := newAuthorizer(nil)
	id := session.Issue()
	other := session.Issue()

	cases := []struct {
		name    string
		channel string
		claimed string
	}{
		{"missing claim", channelFor(id), ""},
		{"malformed claim", channelFor(id), "not-a-uuid"},
		{"different conversation", channelFor(id), other.String()},
		{"malformed channel", "private-chat.nope", id.String()},
		{"no prefix", id.String(), id.String()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			grant := a.Authorize(context.Background(), tc.channel, tc.claimed, Anonymous{})
			assert.False(t, grant.Allowed)
			assert.Nil(t, grant.Presence)
			assert.NotEmpty(t, grant.Reason)
		})
	}
}

func TestGrant_Err(t *testing.T) {
	allowed := Grant{Allowed: true}
	assert.NoError(t, allowed.Err())

	denied := deny("conversation id mismatch")
	err := denied.Err()
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "conversation id mismatch")
}
