// Package auth provides bearer token authentication for the botkeeper control API.
//
// # JWT Tokens
//
// Callers authenticate with HS256 JWTs signed with auth.jwt_secret. The
// secret must be at least MinSecretLength bytes. Tokens are minted with
// "botkeeper token <subject>":
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("ops", 30*24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware rejects requests without a valid "Authorization: Bearer"
// header with 401 and a JSON error body. Accepted requests carry an
// AuthContext retrievable with FromContext.
//
// When no secret is configured the gateway does not install the middleware
// and the control routes are open, matching a trusted-network deployment.
package auth
