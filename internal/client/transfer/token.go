package transfer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/gophupload/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophupload/internal/common"
)

// TokenProvider supplies the bearer token for outbound requests. An empty
// token means requests go out without an Authorization header.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// StoredToken reads a JWT kept in the metadata repository and refuses it
// once expired or when it was stored for another server. An expired token
// is removed from the repository. The signature is not verified here; that
// is the server's concern.
type StoredToken struct {
	Repo   metadata.Repository
	Server string
	Now    func() time.Time
}

func NewStoredToken(repo metadata.Repository, server string) *StoredToken {
	return &StoredToken{Repo: repo, Server: server, Now: time.Now}
}

func (s *StoredToken) Token(ctx context.Context) (string, error) {
	raw, err := s.Repo.Get(ctx, common.AuthTokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to read stored token: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", fmt.Errorf("no stored token: %w", common.ErrUnauthorized)
	}

	issuedFor, err := s.Repo.Get(ctx, common.AuthServerKey)
	if err != nil {
		return "", fmt.Errorf("failed to read stored token server: %w", err)
	}
	if s.Server != "" && string(issuedFor) != s.Server {
		return "", fmt.Errorf("stored token belongs to %q: %w", issuedFor, common.ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return "", fmt.Errorf("malformed stored token: %w", common.ErrUnauthorized)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.Now()) {
		if err := DeleteToken(ctx, s.Repo); err != nil {
			return "", err
		}
		return "", fmt.Errorf("stored token expired at %s: %w", claims.ExpiresAt.Format(time.RFC3339), common.ErrTokenExpired)
	}
	return tok, nil
}

// StoreToken saves tok together with the server it is meant for.
func StoreToken(ctx context.Context, repo metadata.Repository, server, tok string) error {
	return repo.SetMany(ctx, map[string][]byte{
		common.AuthTokenKey:  []byte(strings.TrimSpace(tok)),
		common.AuthServerKey: []byte(server),
	})
}

// DeleteToken forgets the stored token.
func DeleteToken(ctx context.Context, repo metadata.Repository) error {
	for _, key := range []string{common.AuthTokenKey, common.AuthServerKey} {
		if err := repo.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete stored token: %w", err)
		}
	}
	return nil
}

// bearer resolves a token and turns provider failures into 401 rejections
// so they are not retried.
func bearer(ctx context.Context, p TokenProvider) (string, error) {
	if p == nil {
		return "", nil
	}
	tok, err := p.Token(ctx)
	if err != nil {
		r := Rejected(http.StatusUnauthorized, err.Error())
		r.Err = err
		return "", r
	}
	return tok, nil
}
