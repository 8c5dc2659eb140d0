package bearergate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/bearergate/authority"
	"github.com/ggoodman/bearergate/keys"
	"github.com/ggoodman/bearergate/policy"
	"github.com/ggoodman/bearergate/token"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	bearerPrefix          = "Bearer "
)

var (
	jsonMediaType      = contenttype.NewMediaType("application/json")
	plainMediaType     = contenttype.NewMediaType("text/plain")
	rejectionMediaList = []contenttype.MediaType{jsonMediaType, plainMediaType}
)

// Gate is the request-level entry point: it extracts the bearer token,
// verifies it, derives authorities, evaluates the target's policy, and
// either forwards the request with an AuthenticationContext attached or
// short-circuits with a structured rejection. One Gate serves all routes;
// it holds no per-request state.
type Gate struct {
	verifier *token.Verifier
	mapper   *authority.Mapper
	policies *policy.Store

	log                 *slog.Logger
	realm               string
	resourceMetadataURL string
	allowAnonymous      bool
}

// Option configures optional aspects of a Gate.
type Option func(*Gate)

// WithLogger sets the slog logger used for decision events. If not
// provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithRealm sets the realm echoed in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(g *Gate) { g.realm = realm }
}

// WithResourceMetadataURL advertises an RFC 9728 protected-resource
// metadata URL in challenges.
func WithResourceMetadataURL(u string) Option {
	return func(g *Gate) { g.resourceMetadataURL = u }
}

// WithAnonymous controls whether open targets admit requests with no
// credentials at all. Enabled by default; disabling it makes the gate
// demand a bearer token on every target regardless of policy.
func WithAnonymous(allow bool) Option {
	return func(g *Gate) { g.allowAnonymous = allow }
}

// New builds a Gate. All three collaborators are required: the verifier
// establishes identity, the mapper derives authorities, and the policy
// store decides access per target.
func New(verifier *token.Verifier, mapper *authority.Mapper, policies *policy.Store, opts ...Option) (*Gate, error) {
	if verifier == nil {
		return nil, errors.New("bearergate: verifier is required")
	}
	if mapper == nil {
		return nil, errors.New("bearergate: authority mapper is required")
	}
	if policies == nil {
		return nil, errors.New("bearergate: policy store is required")
	}
	g := &Gate{
		verifier:       verifier,
		mapper:         mapper,
		policies:       policies,
		log:            slog.Default(),
		allowAnonymous: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Middleware wraps next so that no request reaches it without passing the
// target's policy. Authentication failures yield 401 with a Bearer
// challenge; authorization failures yield 403. The two are never collapsed.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		pol := g.policies.Resolve(r.Method, r.URL.Path)

		raw, present, err := bearerToken(r)
		if err != nil {
			g.reject(w, r, http.StatusUnauthorized, "invalid_request", err.Error())
			return
		}

		if !present {
			if pol.RequiresAuthentication() || !g.allowAnonymous {
				// No error param: the client simply has not authenticated yet.
				g.rejectMissing(w, r)
				return
			}
			ac := &AuthenticationContext{Authorities: authority.NewSet()}
			g.log.DebugContext(ctx, "gate.allow.anonymous",
				slog.String("path", r.URL.Path),
				slog.Duration("dur", time.Since(start)))
			next.ServeHTTP(w, r.WithContext(withAuth(ctx, ac)))
			return
		}

		// A presented token is always validated, even on an Any target:
		// invalid credentials are never silently ignored.
		claims, err := g.verifier.Verify(ctx, raw)
		if err != nil {
			g.reject(w, r, http.StatusUnauthorized, "invalid_token", describeTokenError(err))
			return
		}

		authorities := g.mapper.Map(claims)
		ac := &AuthenticationContext{
			Authenticated: true,
			Subject:       claims.Subject(),
			Authorities:   authorities,
			ExpiresAt:     claims.ExpiresAt(),
			Claims:        claims,
		}

		in := policy.Input{Authenticated: true, Subject: ac.Subject, Authorities: authorities}
		if !pol.Allows(in) {
			g.rejectForbidden(w, r, ac, pol)
			return
		}

		g.log.DebugContext(ctx, "gate.allow",
			slog.String("sub", ac.Subject),
			slog.String("path", r.URL.Path),
			slog.String("policy", pol.String()),
			slog.Duration("dur", time.Since(start)))
		next.ServeHTTP(w, r.WithContext(withAuth(ctx, ac)))
	})
}

// bearerToken pulls the token from the Authorization header. present is
// false when the header is absent; a header with the wrong scheme or an
// empty token is an error.
func bearerToken(r *http.Request) (raw string, present bool, err error) {
	h := r.Header.Get(authorizationHeader)
	if h == "" {
		return "", false, nil
	}
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", true, errors.New("malformed bearer authorization header")
	}
	tok := strings.TrimSpace(h[len(bearerPrefix):])
	if tok == "" {
		return "", true, errors.New("empty bearer token")
	}
	return tok, true, nil
}

// describeTokenError maps verification failures onto client-safe challenge
// descriptions. Raw token contents and key material never appear here.
func describeTokenError(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "token expired"
	case errors.Is(err, token.ErrNotYetValid):
		return "token not yet valid"
	case errors.Is(err, token.ErrIssuerMismatch):
		return "issuer mismatch"
	case errors.Is(err, token.ErrAudienceMismatch):
		return "audience mismatch"
	case errors.Is(err, token.ErrInvalidSignature):
		return "signature verification failed"
	case errors.Is(err, keys.ErrUnknownKey):
		return "signing key not recognized"
	case errors.Is(err, keys.ErrProviderUnavailable):
		// Fail closed: key material could not be confirmed fresh.
		return "temporarily unable to validate credentials"
	default:
		return "malformed token"
	}
}

func (g *Gate) rejectMissing(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	g.log.InfoContext(r.Context(), "gate.deny.missing_credentials",
		slog.String("decision_id", id),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(g.realm, g.resourceMetadataURL, nil))
	g.writeRejection(w, r, http.StatusUnauthorized, "missing_credentials", "authorization required", id)
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, status int, code, description string) {
	id := uuid.NewString()
	g.log.InfoContext(r.Context(), "gate.deny.unauthenticated",
		slog.String("decision_id", id),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("reason", description))
	w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(g.realm, g.resourceMetadataURL, map[string]string{
		"error":             code,
		"error_description": description,
	}))
	g.writeRejection(w, r, status, code, description, id)
}

func (g *Gate) rejectForbidden(w http.ResponseWriter, r *http.Request, ac *AuthenticationContext, pol policy.Policy) {
	id := uuid.NewString()
	g.log.InfoContext(r.Context(), "gate.deny.forbidden",
		slog.String("decision_id", id),
		slog.String("sub", ac.Subject),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("policy", pol.String()))
	// 403 carries no Bearer challenge: the credentials were fine, the
	// authority set was not.
	g.writeRejection(w, r, http.StatusForbidden, "insufficient_authority", "caller lacks a required authority", id)
}

// rejection is the structured body returned on deny.
type rejection struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	DecisionID       string `json:"decision_id"`
}

func (g *Gate) writeRejection(w http.ResponseWriter, r *http.Request, status int, code, description, decisionID string) {
	accepted, _, err := contenttype.GetAcceptableMediaType(r, rejectionMediaList)
	if err == nil && accepted.Type == plainMediaType.Type && accepted.Subtype == plainMediaType.Subtype {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(code + ": " + description + " (" + decisionID + ")\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rejection{Error: code, ErrorDescription: description, DecisionID: decisionID}); err != nil {
		g.log.ErrorContext(r.Context(), "gate.reject.encode.fail", slog.String("err", err.Error()))
	}
}
