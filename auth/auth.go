// Package auth obtains bearer tokens for outbound calls using the OAuth2
// client-credentials flow.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// ClientCred caches a token and refreshes it when it expires.
type ClientCred struct {
	mu    sync.Mutex
	conf  Conf
	token *oauth2.Token
}

func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf}
}

// Token returns a valid access token, fetching a new one when needed.
func (c *ClientCred) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token.AccessToken, nil
	}
	return c.fetch(ctx)
}

// Invalidate drops the cached token, e.g. after the server answered 401.
func (c *ClientCred) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// fetch runs with c.mu held.
func (c *ClientCred) fetch(ctx context.Context) (string, error) {
	cfg := c.conf.oauth2()
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

// SetAuthHeader adds the bearer token to r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.Token(r.Context())
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", "Bearer "+tok)
	return nil
}
