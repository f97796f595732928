package service

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "secret"})

	token, err := auth.GenerateToken("learner-7", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "learner-7", claims.UserID)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenRejections(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "secret"})
	other := NewAuthService(&config.Config{JWTSecret: "other"})

	expired, err := auth.GenerateToken("learner-7", -time.Minute)
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := other.GenerateToken("learner-7", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	guest, err := auth.GenerateToken("guest", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(guest)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
