package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret", "hms-api")
	token, err := v.Issue("receptionist-1", "receptionist", time.Hour)
	require.NoError(t, err)

	actor, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "receptionist-1", actor.Subject)
	assert.Equal(t, "receptionist", actor.Role)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewTokenVerifier("secret", "hms-api")

	expired, err := v.Issue("u", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewTokenVerifier("other", "hms-api").Issue("u", "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewTokenVerifier("secret", "elsewhere").Issue("u", "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ActorFrom(ctx))
	assert.Equal(t, "", SubjectFrom(ctx))

	ctx = WithActor(ctx, &Actor{Subject: "doc-7", Role: "doctor"})
	assert.Equal(t, "doc-7", SubjectFrom(ctx))
}
