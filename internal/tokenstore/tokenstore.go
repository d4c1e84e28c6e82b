// Package tokenstore holds the current credential pair and the last known
// user snapshot. It is plain key-value persistence; it never talks to the API.
package tokenstore

import (
	"context"
	"errors"
	"time"

	"ai-notetaking-client/internal/dto"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	ErrNoCredential = errors.New("no credential stored")
	ErrNoUser       = errors.New("no user snapshot stored")
)

// TokenStore is written only by explicit login/logout and the refresh gate.
type TokenStore interface {
	GetCredential(ctx context.Context) (*oauth2.Token, error)
	SetCredential(ctx context.Context, token *oauth2.Token) error
	GetUser(ctx context.Context) (*dto.UserDTO, error)
	SetUser(ctx context.Context, user *dto.UserDTO) error
	Clear(ctx context.Context) error
}

// NewCredential builds a bearer credential. The access token's "exp" claim,
// when readable, becomes the expiry; the signature is not checked here, the
// server stays authoritative.
func NewCredential(accessToken, refreshToken string) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
	}
	if exp, ok := accessTokenExpiry(accessToken); ok {
		token.Expiry = exp
	}
	return token
}

// SubjectOf returns the user_id claim of an access token, if present.
func SubjectOf(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	if userID, ok := claims["user_id"].(string); ok {
		return userID
	}
	return ""
}

func accessTokenExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// AccessToken is a convenience read that treats "no credential" as empty.
func AccessToken(ctx context.Context, store TokenStore) string {
	token, err := store.GetCredential(ctx)
	if err != nil || token == nil {
		return ""
	}
	return token.AccessToken
}
