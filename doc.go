// Package bearergate guards HTTP resource servers with bearer-token
// authentication and claims-based authorization.
//
// A Gate combines three collaborators: a token.Verifier that validates JWT
// access tokens against an issuer's published signing keys, an
// authority.Mapper that turns token claims into a set of granted
// authorities, and a policy.Store that decides, per route, which
// authorities a request must hold. Wrap any http.Handler with
// Gate.Middleware and every request is either forwarded with an
// AuthenticationContext attached or rejected with a structured 401/403
// response and an RFC 6750 Bearer challenge.
//
// Subpackages:
//
//   - discovery resolves OIDC provider metadata for an issuer.
//   - keys fetches and caches JWKS signing keys, with an optional Redis
//     backed store in keys/rediscache for multi-instance deployments.
//   - token verifies signatures and standard claims.
//   - authority maps claims to prefixed authority names.
//   - policy expresses and evaluates route access rules, including a
//     YAML policy file with live reload.
//   - authtest runs an in-process OIDC authority for tests.
package bearergate
