package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
)

const bearerPrefix = "Bearer "

// Authenticator extracts the caller's identity from a bearer token and pins a
// session cookie on every request.
type Authenticator struct {
	jwtSecret     []byte
	sessionCookie string
	sessionTTL    time.Duration
	newSessionID  func() string
}

// AuthenticatorDeps configures the middleware.
type AuthenticatorDeps struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables token
	// verification; every caller is then a guest.
	JWTSecret     string
	SessionCookie string
	SessionTTL    time.Duration
	// SessionIDGenerator overrides session id generation, for tests.
	SessionIDGenerator func() string
}

// NewAuthenticator constructs the middleware.
func NewAuthenticator(deps AuthenticatorDeps) *Authenticator {
	cookie := deps.SessionCookie
	if cookie == "" {
		cookie = "storefront_session"
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	newID := deps.SessionIDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &Authenticator{
		jwtSecret:     []byte(deps.JWTSecret),
		sessionCookie: cookie,
		sessionTTL:    ttl,
		newSessionID:  newID,
	}
}

// Middleware resolves identity and session for every request. Invalid or
// missing tokens degrade to guest rather than rejecting the request; the cart
// works the same either way.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithIdentity(r.Context(), a.identityFromRequest(r))

		sessionID := a.sessionIDFromRequest(r)
		if sessionID == "" {
			sessionID = a.newSessionID()
			http.SetCookie(w, &http.Cookie{
				Name:     a.sessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(a.sessionTTL.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx = WithSessionID(ctx, sessionID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) identityFromRequest(r *http.Request) Identity {
	if len(a.jwtSecret) == 0 {
		return Identity{}
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return Identity{}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return Identity{}
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}
	}
	return Identity{UserID: strings.TrimSpace(claims.Subject)}
}

func (a *Authenticator) sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(a.sessionCookie)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}
