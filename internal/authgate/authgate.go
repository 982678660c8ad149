// Package authgate implements the Auth Gate (SPEC_FULL.md §6.1): resolving
// a bearer token to a user identity via the identity provider's userinfo
// endpoint, and checking project/vlab group membership against that
// identity's groups claim.
//
// Grounded in the teacher's userinfo-fetch pattern
// (intelligencedev-manifold's internal/auth/oauth2.go's fetchUserInfo/dig),
// but adapted from that file's browser login flow (cookies, sessions,
// authorization-code exchange) to a stateless bearer-token gateway: every
// request already carries its own access token, so there is no flow to
// drive, only a token to resolve — once per request, via
// golang.org/x/oauth2 + github.com/coreos/go-oidc/v3's discovery-backed
// UserInfo call.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrInvalidToken is returned when the identity provider rejects the
// bearer token (expired, malformed, revoked).
var ErrInvalidToken = errors.New("authgate: invalid token")

// ErrNoAccess is returned when a resolved identity's groups do not include
// the requested project/vlab.
var ErrNoAccess = errors.New("authgate: no access to project")

// User is the identity resolved from a bearer token.
type User struct {
	Subject string
	Email   string
	Groups  []string
}

// groupPattern matches "/proj/<vlab>/<project>/<role>" group claims
// (spec.md §6.1); any role suffices for access.
var groupPattern = regexp.MustCompile(`^/proj/([^/]+)/([^/]+)/[^/]+$`)

// HasProjectAccess reports whether u's groups grant access to the given
// vlab/project pair, under any role.
func (u User) HasProjectAccess(vlabID, projectID string) bool {
	for _, g := range u.Groups {
		m := groupPattern.FindStringSubmatch(g)
		if m == nil {
			continue
		}
		if m[1] == vlabID && m[2] == projectID {
			return true
		}
	}
	return false
}

type userInfoClaims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Groups  []string `json:"groups"`
}

// Gate resolves bearer tokens against one OIDC issuer, caching the
// provider's discovery document (the userinfo endpoint URL) for the
// process lifetime — the discovery document itself is treated as
// read-only, built-once state per SPEC_FULL.md §5.
type Gate struct {
	provider *oidc.Provider

	mu    sync.Mutex
	cache map[string]User
}

// New discovers issuer's OIDC configuration and builds a Gate.
func New(ctx context.Context, issuer string) (*Gate, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("authgate: discover issuer %q: %w", issuer, err)
	}
	return &Gate{provider: provider, cache: make(map[string]User)}, nil
}

// Resolve exchanges a bearer token for the caller's identity via the
// provider's userinfo endpoint. The result is cached per-process for the
// token's lifetime within this Gate's cache map; spec.md §6.1 only
// requires per-request caching, so callers that want to bound the cache's
// size (e.g. evict after each request) should use ResolveUncached instead
// and own the caching themselves — this method exists for callers content
// with a shared cache across requests from the same token.
func (g *Gate) Resolve(ctx context.Context, bearerToken string) (User, error) {
	g.mu.Lock()
	if u, ok := g.cache[bearerToken]; ok {
		g.mu.Unlock()
		return u, nil
	}
	g.mu.Unlock()

	u, err := g.ResolveUncached(ctx, bearerToken)
	if err != nil {
		return User{}, err
	}

	g.mu.Lock()
	g.cache[bearerToken] = u
	g.mu.Unlock()
	return u, nil
}

// Forget evicts a token from the cache, e.g. once the request it belongs
// to has completed (the "cached per request" scope from spec.md §6.1).
func (g *Gate) Forget(bearerToken string) {
	g.mu.Lock()
	delete(g.cache, bearerToken)
	g.mu.Unlock()
}

// ResolveUncached always calls the identity provider, bypassing the cache.
func (g *Gate) ResolveUncached(ctx context.Context, bearerToken string) (User, error) {
	if bearerToken == "" {
		return User{}, ErrInvalidToken
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken})
	resp, err := g.provider.UserInfo(ctx, ts)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims userInfoClaims
	if err := resp.Claims(&claims); err != nil {
		return User{}, fmt.Errorf("authgate: decode userinfo claims: %w", err)
	}
	return User{Subject: claims.Subject, Email: claims.Email, Groups: claims.Groups}, nil
}

// Authorize resolves token, then checks project access if vlabID and
// projectID are both non-empty (personal threads have neither and are
// accessible to their owner unconditionally, checked by the caller via
// Thread.UserID, not here).
func (g *Gate) Authorize(ctx context.Context, bearerToken, vlabID, projectID string) (User, error) {
	u, err := g.Resolve(ctx, bearerToken)
	if err != nil {
		return User{}, err
	}
	if vlabID == "" && projectID == "" {
		return u, nil
	}
	if !u.HasProjectAccess(vlabID, projectID) {
		return User{}, ErrNoAccess
	}
	return u, nil
}
