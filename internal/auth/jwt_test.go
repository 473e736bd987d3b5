package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
)

func TestTokenManager_VerifyRoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	userID := uuid.New()

	token, err := tm.GenerateToken(userID, "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "ada@example.com", identity.Email)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager("test-secret", -time.Minute)

	token, err := tm.GenerateToken(uuid.New(), "ada@example.com")
	require.NoError(t, err)

	identity, err := tm.Verify(token)
	assert.Nil(t, identity)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("issuer-secret", time.Hour)
	verifier := NewTokenManager("other-secret", time.Hour)

	token, err := issuer.GenerateToken(uuid.New(), "ada@example.com")
	require.NoError(t, err)

	identity, err := verifier.Verify(token)
	assert.Nil(t, identity)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	identity, err := tm.Verify("not-a-token")
	assert.Nil(t, identity)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
