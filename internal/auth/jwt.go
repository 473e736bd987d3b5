package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// Claims defines the structured data we expect in a JWT issued by the
// identity service.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager verifies tokens issued by the external identity service.
// Issuance lives there, not here; GenerateToken exists for tests and local
// development only.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

var _ ports.TokenVerifier = (*TokenManager)(nil)

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secretKey: []byte(secret), ttl: ttl}
}

// GenerateToken creates a signed token for tests and local development.
func (tm *TokenManager) GenerateToken(userID uuid.UUID, email string) (string, error) {
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.ttl)),
			Subject:   userID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// Verify parses and validates the token string, implementing the auth
// collaborator port.
func (tm *TokenManager) Verify(tokenString string) (*domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	})
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	if !token.Valid || claims.UserID == uuid.Nil {
		return nil, apperrors.ErrInvalidToken
	}

	return &domain.Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
