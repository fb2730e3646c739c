// Package auth provides the viewer's credentials: the bearer token used for
// every backend call and the current user's id. Tokens are read at call time
// so a refreshed token is picked up without restarting the session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when no token is stored.
var ErrNoCredentials = errors.New("auth: no credentials stored")

// Source yields the viewer's credentials.
type Source interface {
	Token(ctx context.Context) (string, error)
	CurrentUserID(ctx context.Context) (string, error)
}

// userIDClaims are checked in order when the user id is read from a token.
var userIDClaims = []string{
	"sub",
	"userId",
	"user_id",
	"nameid",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
}

// UserIDFromToken reads the user id claim of a JWT without verifying its
// signature. The backend verifies tokens; the client only needs to know
// which messages are its own.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}
	for _, key := range userIDClaims {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", errors.New("auth: token carries no user id claim")
}

// Static is a fixed credential pair, used when credentials come from flags
// or the environment.
type Static struct {
	AccessToken string
	UserID      string
}

func (s Static) Token(context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return s.AccessToken, nil
}

func (s Static) CurrentUserID(context.Context) (string, error) {
	if s.UserID != "" {
		return s.UserID, nil
	}
	if s.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return UserIDFromToken(s.AccessToken)
}
