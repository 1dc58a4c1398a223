package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenManager issues and checks share access tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager creates a token manager. issuer is the server host.
// secret must be at least 32 characters for HS256 security.
func NewTokenManager(secret string, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

// shareClaims binds a token to one share.
type shareClaims struct {
	jwt.RegisteredClaims
	Invite string `json:"invite,omitempty"`
}

// ShareAccess is what a valid token grants.
type ShareAccess struct {
	ShareID  string
	InviteID string
}

// IssueShareToken creates a signed HS256 JWT with the share id as subject.
// A zero ttl produces a token without expiry.
func (m *TokenManager) IssueShareToken(shareID, inviteID string) (string, error) {
	now := time.Now()
	claims := shareClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  shareID,
			Issuer:   m.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Invite: inviteID,
	}
	if m.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateShareToken parses and validates a share access token.
func (m *TokenManager) ValidateShareToken(tokenString string) (ShareAccess, error) {
	if tokenString == "" {
		return ShareAccess{}, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &shareClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return ShareAccess{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*shareClaims)
	if !ok || !token.Valid {
		return ShareAccess{}, fmt.Errorf("invalid token claims")
	}
	if claims.Issuer != m.issuer {
		return ShareAccess{}, fmt.Errorf("invalid issuer: expected %s, got %s", m.issuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return ShareAccess{}, fmt.Errorf("token has no share")
	}

	return ShareAccess{ShareID: claims.Subject, InviteID: claims.Invite}, nil
}
