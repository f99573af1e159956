// ABOUTME: Unit tests for identity context propagation
// ABOUTME: Tests WithIdentity/FromContext round trips and absent identities

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestWithIdentity_RoundTrip(t *testing.T) {
	identity := &Identity{UserID: "u-9", DisplayName: "Io", Roles: []string{"admin"}}
	ctx := WithIdentity(context.Background(), identity)

	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, identity, got)
}

func TestFromContext_WrongValueType(t *testing.T) {
	ctx := context.WithValue(context.Background(), identityKey{}, "not an identity")
	assert.Nil(t, FromContext(ctx))
}
