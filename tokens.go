package mwapi

import (
	"fmt"
	"sort"
)

// These consts represent MW API token kinds. They are meant to be used
// with the GetToken method like so:
//
//	w.GetToken(mwapi.CSRFToken)
const (
	CreateAccountToken          = "createaccount"
	CSRFToken                   = "csrf"
	DeleteGlobalAccountToken    = "deleteglobalaccount"
	LoginToken                  = "login"
	PatrolToken                 = "patrol"
	RollbackToken               = "rollback"
	SetGlobalAccountStatusToken = "setglobalaccountstatus"
	UserRightsToken             = "userrights"
	WatchToken                  = "watch"
)

var knownTokenKinds = map[string]bool{
	CreateAccountToken:          true,
	CSRFToken:                   true,
	DeleteGlobalAccountToken:    true,
	LoginToken:                  true,
	PatrolToken:                 true,
	RollbackToken:               true,
	SetGlobalAccountStatusToken: true,
	UserRightsToken:             true,
	WatchToken:                  true,
}

// TokenFetcher retrieves the tokens of the given kinds in one request.
// Kinds the server did not hand out are absent from the returned map.
type TokenFetcher func(kinds []string) (map[string]string, error)

// TokenCache caches the tokens of one API session. Tokens are fetched
// lazily, all missing kinds of one request in a single batch.
type TokenCache struct {
	fetch  TokenFetcher
	tokens map[string]string
}

// NewTokenCache returns an empty cache that fills itself through fetch.
func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{fetch: fetch, tokens: make(map[string]string)}
}

// Get returns the token of the given kind, fetching it if necessary.
func (c *TokenCache) Get(kind string) (string, error) {
	if err := c.Require(kind); err != nil {
		return "", err
	}
	return c.tokens[kind], nil
}

// Require makes sure tokens of all the given kinds are cached. The
// missing ones are fetched in exactly one request. If the server does not
// return one of them, Require returns a FatalError wrapping
// ErrTokenMissing.
func (c *TokenCache) Require(kinds ...string) error {
	var missing []string
	seen := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		if !knownTokenKinds[kind] {
			return fmt.Errorf("%w: %q", ErrUnknownTokenKind, kind)
		}
		if _, ok := c.tokens[kind]; ok || seen[kind] {
			continue
		}
		seen[kind] = true
		missing = append(missing, kind)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	got, err := c.fetch(missing)
	if err != nil {
		return fmt.Errorf("fetching tokens: %w", err)
	}
	for _, kind := range missing {
		token, ok := got[kind]
		if !ok || token == "" {
			return &FatalError{Err: fmt.Errorf("%w: %s", ErrTokenMissing, kind)}
		}
		c.tokens[kind] = token
	}
	return nil
}

// Set caches a token obtained elsewhere.
func (c *TokenCache) Set(kind, token string) {
	c.tokens[kind] = token
}

// Invalidate removes a token so the next Get fetches it anew.
func (c *TokenCache) Invalidate(kind string) {
	delete(c.tokens, kind)
}

// Clear removes all tokens, e.g. after the session ended.
func (c *TokenCache) Clear() {
	c.tokens = make(map[string]string)
}
