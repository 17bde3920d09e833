package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/ps"
)

// AuthConfig configures session token validation.
type AuthConfig struct {
	// JWTSecret is the shared secret for HS256 JWT validation.
	JWTSecret string

	// Issuer is the expected "iss" claim in JWTs.
	Issuer string

	// Audience is the expected "aud" claim in JWTs (optional).
	Audience string

	// NameClaim is the JWT claim for user's name (default: "name").
	NameClaim string

	// EmailClaim is the JWT claim for user's email (default: "email").
	EmailClaim string

	// TokenClaim carries the user-delegated backend token (default: "access_token").
	TokenClaim string

	// AdminClaim is a boolean claim granting admin routes (default: "admin").
	AdminClaim string
}

// Session is an authenticated caller.
type Session struct {
	Username    string
	Identity    core.Identity
	AccessToken string
	Admin       bool
	ExpiresAt   time.Time
}

type sessionKey struct{}

func sessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(*Session)
	return session, ok
}

var (
	errNoToken   = errors.New("missing bearer token")
	errForbidden = errors.New("forbidden")
)

func claimName(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

// validateJWT validates a session token and extracts the caller.
func (s *Server) validateJWT(tokenString string) (*Session, error) {
	if s.auth.JWTSecret == "" {
		return nil, errors.New("authentication not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.auth.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	// Validate issuer if configured
	if s.auth.Issuer != "" {
		issuer, _ := claims.GetIssuer()
		if issuer != s.auth.Issuer {
			return nil, fmt.Errorf("invalid issuer: expected %s, got %s", s.auth.Issuer, issuer)
		}
	}

	// Validate audience if configured
	if s.auth.Audience != "" {
		audiences, _ := claims.GetAudience()
		found := false
		for _, aud := range audiences {
			if aud == s.auth.Audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid audience: expected %s", s.auth.Audience)
		}
	}

	subject, _ := claims.GetSubject()
	if db.ValidateUsername(subject) != nil {
		return nil, fmt.Errorf("token subject %q is not a username", subject)
	}

	name, _ := claims[claimName(s.auth.NameClaim, "name")].(string)
	email, _ := claims[claimName(s.auth.EmailClaim, "email")].(string)
	accessToken, _ := claims[claimName(s.auth.TokenClaim, "access_token")].(string)
	admin, _ := claims[claimName(s.auth.AdminClaim, "admin")].(bool)

	if name == "" {
		name = subject
	}

	session := &Session{
		Username:    subject,
		Identity:    core.Identity{Name: name, Email: email},
		AccessToken: accessToken,
		Admin:       admin,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}

// parseBearer extracts the token from an Authorization header
func parseBearer(header string) (string, error) {
	if header == "" {
		return "", errNoToken
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid Authorization header: expected Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

// withSession resolves the caller, if any. Reads and visitor writes keep
// the service token; see delegate.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := parseBearer(r.Header.Get("Authorization"))
		if errors.Is(err, errNoToken) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		session, err := s.validateJWT(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// delegate commits the request's writes as the session user, with the
// user's delegated token when the session carries one
func delegate(r *http.Request, session *Session) *http.Request {
	ctx := db.WithIdentity(r.Context(), session.Identity)
	ctx = ps.WithToken(ctx, session.AccessToken)
	return r.WithContext(ctx)
}

// requireSession rejects anonymous callers
func requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessionFromContext(r.Context()); !ok {
			respondError(w, http.StatusUnauthorized, errNoToken.Error())
			return
		}
		next(w, r)
	}
}

// requireOwner lets through the user named in the route, or an admin, and
// delegates the request's writes to them
func requireOwner(next http.HandlerFunc) http.HandlerFunc {
	return requireSession(func(w http.ResponseWriter, r *http.Request) {
		session, _ := sessionFromContext(r.Context())
		if !session.Admin && session.Username != routeUsername(r) {
			respondError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next(w, delegate(r, session))
	})
}

func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return requireSession(func(w http.ResponseWriter, r *http.Request) {
		session, _ := sessionFromContext(r.Context())
		if !session.Admin {
			respondError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next(w, r)
	})
}

// isOwner reports whether the caller may see the route user's drafts
func isOwner(r *http.Request) bool {
	session, ok := sessionFromContext(r.Context())
	return ok && (session.Admin || session.Username == routeUsername(r))
}
