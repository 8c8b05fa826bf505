package mcp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2/clientcredentials"
)

// tokenCache holds one bearer token per server for the process lifetime.
var (
	tokenMu    sync.Mutex
	tokenCache = map[string]string{}
)

// bearerToken acquires (or returns the cached) bearer token for a remote
// server using the client-credentials grant.
func bearerToken(ctx context.Context, cfg *ServerConfig) (string, error) {
	if cfg.OAuth == nil {
		return "", fmt.Errorf("server %s has no oauth config", cfg.ID)
	}

	tokenMu.Lock()
	if tok, ok := tokenCache[cfg.ID]; ok {
		tokenMu.Unlock()
		return tok, nil
	}
	tokenMu.Unlock()

	cc := clientcredentials.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	}
	token, err := cc.Token(ctx)
	if err != nil {
		return "", err
	}

	tokenMu.Lock()
	tokenCache[cfg.ID] = token.AccessToken
	tokenMu.Unlock()
	return token.AccessToken, nil
}

// resetTokenCache clears cached tokens; used by tests.
func resetTokenCache() {
	tokenMu.Lock()
	tokenCache = map[string]string{}
	tokenMu.Unlock()
}
