package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderUserID names the user a service-key caller acts for
const HeaderUserID = "X-User-ID"

var (
	errUnauthenticated = errors.New("missing or invalid credentials")
	errForbidden       = errors.New("userId does not match the authenticated user")
	errNoUser          = errors.New("userId is required for service requests")
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID  string // empty for a service caller that named no user
	Service bool
}

// UserFor returns the user a request acts for. A user token may only act for
// its own subject; a service caller acts for requested.
func (p Principal) UserFor(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if p.Service {
		if requested == "" {
			requested = p.UserID
		}
		if requested == "" {
			return "", errNoUser
		}
		return requested, nil
	}
	if requested != "" && requested != p.UserID {
		return "", errForbidden
	}
	return p.UserID, nil
}

type principalKey struct{}

// PrincipalFrom returns the principal stored by the auth middleware
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator verifies user tokens and the trusted service key
type Authenticator struct {
	secret     []byte
	serviceKey string
}

// NewAuthenticator creates an Authenticator. Either credential may be empty,
// which disables that kind of authentication.
func NewAuthenticator(jwtSecret, serviceKey string) *Authenticator {
	a := &Authenticator{serviceKey: serviceKey}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// IssueToken signs an HS256 token whose subject is userID
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	if a.secret == nil {
		return "", errors.New("no JWT secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate resolves a bearer credential to a principal
func (a *Authenticator) Authenticate(bearer string) (Principal, error) {
	if bearer == "" {
		return Principal{}, errUnauthenticated
	}
	if a.serviceKey != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(a.serviceKey)) == 1 {
		return Principal{Service: true}, nil
	}
	if a.secret == nil {
		return Principal{}, errUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Principal{}, errUnauthenticated
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return Principal{}, errUnauthenticated
	}
	return Principal{UserID: claims.Subject}, nil
}

// Middleware rejects unauthenticated requests and stores the principal in the context.
// EventSource clients cannot set headers, so /api/changes also accepts access_token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerToken(r)
		if bearer == "" && r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/changes") {
			bearer = r.URL.Query().Get("access_token")
		}

		p, err := a.Authenticate(bearer)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if p.Service {
			p.UserID = strings.TrimSpace(r.Header.Get(HeaderUserID))
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requestUser resolves the acting user and writes the error response when it cannot
func requestUser(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return "", false
	}
	userID, err := p.UserFor(requested)
	switch {
	case errors.Is(err, errForbidden):
		respondError(w, http.StatusForbidden, err.Error())
		return "", false
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return userID, true
}
