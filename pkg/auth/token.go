package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/singleflight"
)

// TokenCredential issues Azure access tokens
type TokenCredential = azcore.TokenCredential

// TokenSource caches Entra tokens for the MONGODB-OIDC machine callback.
// Concurrent callbacks share one token request.
type TokenSource struct {
	credential          TokenCredential
	scopes              []string
	refreshBeforeExpiry time.Duration

	mu    sync.RWMutex
	token *azcore.AccessToken
	group singleflight.Group
}

// NewTokenSource creates a token source; tokens are refreshed
// refreshBeforeExpiry ahead of their expiry
func NewTokenSource(credential TokenCredential, scopes []string, refreshBeforeExpiry time.Duration) *TokenSource {
	return &TokenSource{
		credential:          credential,
		scopes:              scopes,
		refreshBeforeExpiry: refreshBeforeExpiry,
	}
}

// OIDCCallback implements options.OIDCCallback
func (s *TokenSource) OIDCCallback(ctx context.Context, _ *options.OIDCArgs) (*options.OIDCCredential, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	expiresAt := token.ExpiresOn
	return &options.OIDCCredential{
		AccessToken: token.Token,
		ExpiresAt:   &expiresAt,
	}, nil
}

// Token returns the cached token or requests a new one when it is close to expiry
func (s *TokenSource) Token(ctx context.Context) (azcore.AccessToken, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	value, err, _ := s.group.Do(strings.Join(s.scopes, " "), func() (interface{}, error) {
		if token, ok := s.cached(); ok {
			return token, nil
		}
		token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: s.scopes})
		if err != nil {
			return azcore.AccessToken{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		s.mu.Lock()
		s.token = &token
		s.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return value.(azcore.AccessToken), nil
}

func (s *TokenSource) cached() (azcore.AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return azcore.AccessToken{}, false
	}
	if time.Now().Add(s.refreshBeforeExpiry).Before(s.token.ExpiresOn) {
		return *s.token, true
	}
	return azcore.AccessToken{}, false
}

// Clear drops the cached token
func (s *TokenSource) Clear() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}
