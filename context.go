package bearergate

import (
	"context"
	"time"

	"github.com/ggoodman/bearergate/authority"
	"github.com/ggoodman/bearergate/token"
)

// AuthenticationContext is the identity the gate hands to downstream
// handlers after authorization succeeds. It lives for the duration of a
// single request and is never persisted. Authorities is never nil; an
// anonymous caller (Any target, no credentials) has an empty Subject and an
// empty set. Subject may also be empty for an authenticated caller whose
// token carries no sub claim.
type AuthenticationContext struct {
	// Authenticated reports whether validated credentials back this
	// context. It is the authoritative anonymity signal; Subject is not,
	// since subjectless tokens are valid.
	Authenticated bool
	Subject       string
	Authorities   authority.Set
	ExpiresAt     time.Time
	Claims        token.Claims
}

// Anonymous reports whether the request carried no validated credentials.
func (ac *AuthenticationContext) Anonymous() bool {
	return !ac.Authenticated
}

type authContextKey struct{}

func withAuth(ctx context.Context, ac *AuthenticationContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// ContextAuth returns the AuthenticationContext attached by the gate, if
// any. Handlers behind the middleware on a non-Any target can rely on ok
// being true.
func ContextAuth(ctx context.Context) (*AuthenticationContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthenticationContext)
	return ac, ok
}
