package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"ratebook/crypto"
	nativecommon "ratebook/native/common"
)

// Claims carries the caller address in sub and space separated roles in scope.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const authContextKey contextKey = "poolsd.auth"

// grantableRoles are the roles a bearer token may carry. The position manager
// role stays with the ledger and is never handed to HTTP callers.
var grantableRoles = map[string]struct{}{
	nativecommon.RoleGovernance: {},
}

type authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func newAuthenticator(secret, issuer string, now func() time.Time) (*authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret not configured")
	}
	if now == nil {
		now = time.Now
	}
	return &authenticator{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: now}, nil
}

func (a *authenticator) parse(raw string) (nativecommon.Authorization, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nativecommon.Authorization{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	if !token.Valid {
		return nativecommon.Authorization{}, errUnauthenticated
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return nativecommon.Authorization{}, fmt.Errorf("%w: subject: %v", errUnauthenticated, err)
	}
	return nativecommon.NewAuthorization(caller, filterRoles(claims.Scope)...), nil
}

func filterRoles(scope string) []string {
	var roles []string
	for _, role := range strings.Fields(scope) {
		role = strings.ToLower(role)
		if _, ok := grantableRoles[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// middleware attaches the caller when a bearer token is present. Anonymous
// requests pass through; handlers that mutate state call requireCaller.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r.Header.Get("Authorization"))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth, err := a.parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, auth)))
	})
}

func authFrom(ctx context.Context) (nativecommon.Authorization, bool) {
	auth, ok := ctx.Value(authContextKey).(nativecommon.Authorization)
	return auth, ok
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authFrom(r.Context()); !ok {
			writeError(w, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := authFrom(r.Context())
			if !ok {
				writeError(w, errUnauthenticated)
				return
			}
			if err := auth.Require(role); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken mints an HS256 bearer token for caller.
func IssueToken(secret, issuer string, caller common.Address, roles []string, ttl time.Duration, now time.Time) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("auth secret not configured")
	}
	if caller == (common.Address{}) {
		return "", crypto.ErrInvalidAddress
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		Scope: strings.Join(roles, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Hex(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
