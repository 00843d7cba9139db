package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ecommerce/internal/apperr"
)

// AuthService exchanges API client credentials for short-lived bearer
// tokens. There is a single configured client; its secret is kept only as a
// bcrypt hash.
type AuthService struct {
	clientID   string
	secretHash []byte
	jwtSecret  []byte
	tokenTTL   time.Duration
	now        func() time.Time
}

func NewAuthService(clientID string, secretHash []byte, jwtSecret string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		clientID:   clientID,
		secretHash: secretHash,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
}

func (s *AuthService) Authenticate(ctx context.Context, clientID, secret string) error {
	const op = "auth.authenticate"
	if err := ctx.Err(); err != nil {
		return dependency(op, err)
	}

	idOK := subtle.ConstantTimeCompare([]byte(clientID), []byte(s.clientID)) == 1
	// compare the hash even on an unknown id so both paths take the same time
	hashErr := bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret))
	if !idOK || hashErr != nil {
		return apperr.New(apperr.KindUnauthorized, op, "invalid client credentials")
	}
	return nil
}

// IssueToken authenticates the client and returns a signed HS256 token with
// its expiry.
func (s *AuthService) IssueToken(ctx context.Context, clientID, secret string) (string, time.Time, error) {
	if err := s.Authenticate(ctx, clientID, secret); err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// HashSecret produces the value expected in API_CLIENT_SECRET_HASH.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}
