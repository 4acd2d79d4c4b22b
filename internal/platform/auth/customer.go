package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Customer is the signed-in storefront user.
type Customer struct {
	UID           string
	Email         string
	Name          string
	EmailVerified bool
	Provider      string
}

type customerContextKey struct{}

func WithCustomer(ctx context.Context, customer *Customer) context.Context {
	return context.WithValue(ctx, customerContextKey{}, customer)
}

// CustomerFromContext returns the customer stored by RequireCustomer.
func CustomerFromContext(ctx context.Context) (*Customer, bool) {
	customer, ok := ctx.Value(customerContextKey{}).(*Customer)
	if !ok || customer == nil {
		return nil, false
	}
	return customer, true
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier       TokenVerifier
	timeout        time.Duration
	allowAnonymous bool
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAnonymousCustomers lets Firebase anonymous sessions through.
func WithAnonymousCustomers(allow bool) Option {
	return func(a *Authenticator) { a.allowAnonymous = allow }
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireCustomer verifies the bearer ID token and stores the Customer in the request context.
func (a *Authenticator) RequireCustomer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			customer := customerFromToken(token)
			if customer.UID == "" {
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token has no subject")
				return
			}
			if customer.Provider == "anonymous" && !a.allowAnonymous {
				respondAuthError(w, http.StatusForbidden, "anonymous_not_allowed", "sign in to continue")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCustomer(r.Context(), customer)))
		})
	}
}

func customerFromToken(token *firebaseauth.Token) *Customer {
	customer := &Customer{UID: token.UID}
	customer.Email = claimString(token.Claims, "email")
	customer.Name = claimString(token.Claims, "name")
	customer.EmailVerified, _ = token.Claims["email_verified"].(bool)
	customer.Provider = token.Firebase.SignInProvider
	return customer
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
