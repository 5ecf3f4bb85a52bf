package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_ValidateMirroredToken(t *testing.T) {
	env := newTestEnv(t)
	tok := env.admit(t, testEventID, "alice")

	grant, err := env.tokens.Validate(context.Background(), tok.Token)

	require.NoError(t, err)
	assert.Equal(t, "alice", grant.UserID)
	assert.Equal(t, testEventID, grant.EventID)
	assert.Equal(t, tok.Token, grant.Token)
	assert.WithinDuration(t, tok.ExpiresAt, grant.ExpiresAt, time.Second)
}

func TestTokenService_ValidateMissing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tokens.Validate(context.Background(), "")

	assert.ErrorIs(t, err, domain.ErrEntryTokenMissing)
}

func TestTokenService_ValidateNotMirrored(t *testing.T) {
	env := newTestEnv(t)
	tok, err := env.tokens.Mint("alice", testEventID, time.Now())
	require.NoError(t, err)

	_, err = env.tokens.Validate(context.Background(), tok.Token)

	assert.ErrorIs(t, err, domain.ErrEntryTokenExpired)
}

func TestTokenService_ValidateStaleSession(t *testing.T) {
	env := newTestEnv(t)
	env.admit(t, testEventID, "alice")

	// correctly signed, but not the token the slot was issued with
	stale, err := env.tokens.Mint("alice", testEventID, time.Now().Add(-time.Second))
	require.NoError(t, err)

	_, err = env.tokens.Validate(context.Background(), stale.Token)

	assert.ErrorIs(t, err, domain.ErrEntryTokenMismatch)
}

func TestTokenService_ValidateMirrorExpired(t *testing.T) {
	env := newTestEnv(t)
	tok := env.admit(t, testEventID, "alice")

	env.mr.FastForward(2 * time.Minute)

	_, err := env.tokens.Validate(context.Background(), tok.Token)
	assert.ErrorIs(t, err, domain.ErrEntryTokenExpired)
}

func TestTokenService_ValidateRejectsBadSignatures(t *testing.T) {
	env := newTestEnv(t)
	other := NewTokenService(env.slots, env.releaser, &TokenServiceConfig{Secret: "another-secret"})

	forged, err := other.Mint("alice", testEventID, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "not-a-jwt", want: domain.ErrInvalidEntryToken},
		{name: "wrong secret", token: forged.Token, want: domain.ErrInvalidEntryToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tokens.Validate(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenService_ValidateExpiredSignature(t *testing.T) {
	env := newTestEnv(t)

	tok, err := env.tokens.Mint("alice", testEventID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = env.tokens.Validate(context.Background(), tok.Token)
	assert.ErrorIs(t, err, domain.ErrEntryTokenExpired)
}

func TestTokenService_ValidateRejectsOtherPurpose(t *testing.T) {
	env := newTestEnv(t)
	claims := EntryTokenClaims{
		UserID:  "alice",
		EventID: testEventID,
		Purpose: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "booking-rush-gate",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTokenSecret))
	require.NoError(t, err)

	_, err = env.tokens.Validate(context.Background(), signed)
	assert.ErrorIs(t, err, domain.ErrInvalidEntryToken)
}

func TestTokenService_RevokeReleasesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok := env.admit(t, testEventID, "alice")

	eventID, released, err := env.tokens.Revoke(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, testEventID, eventID)

	active, err := env.slots.Active(ctx, testEventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)

	_, err = env.tokens.Validate(ctx, tok.Token)
	assert.ErrorIs(t, err, domain.ErrEntryTokenExpired)

	_, released, err = env.tokens.Revoke(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, released)

	assert.Equal(t, []domain.AdmissionEventType{domain.EventEntryRevoked}, env.publisher.Types())

	latest, err := env.push.After(ctx, "alice", "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, domain.StatusExpired, latest[0].Status)
	assert.Equal(t, domain.ReasonRevoked, latest[0].Reason)
}

func TestTokenService_InvalidateRequiresSameToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok := env.admit(t, testEventID, "alice")

	released, err := env.tokens.Invalidate(ctx, &domain.EntryGrant{UserID: "alice", EventID: testEventID, Token: "old"})
	require.NoError(t, err)
	assert.False(t, released)

	released, err = env.tokens.Invalidate(ctx, &domain.EntryGrant{UserID: "alice", EventID: testEventID, Token: tok.Token})
	require.NoError(t, err)
	assert.True(t, released)

	released, err = env.tokens.Invalidate(ctx, &domain.EntryGrant{UserID: "alice", EventID: testEventID, Token: tok.Token})
	require.NoError(t, err)
	assert.False(t, released)
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	assert.Panics(t, func() {
		NewTokenService(nil, nil, &TokenServiceConfig{})
	})
}
