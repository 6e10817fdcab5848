package api

import (
	"fmt"

	"redlive/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ParseIdentity extracts the chat identity claims from the backend access
// token. The token is issued and verified by the auth service; this client
// only reads the claims, so the signature is deliberately not checked here.
func ParseIdentity(token string) (*domain.UserIdentity, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}

	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse auth token: %w", err)
	}

	identity := &domain.UserIdentity{}

	switch id := claims["user_id"].(type) {
	case string:
		identity.ID = domain.UserID(id)
	case float64:
		identity.ID = domain.UserID(fmt.Sprintf("%.0f", id))
	default:
		return nil, fmt.Errorf("auth token missing user_id claim")
	}

	if username, ok := claims["username"].(string); ok {
		identity.Username = username
	}

	return identity, nil
}
