package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSFetchTimeout    = 5 * time.Second
)

// JWKSCache fetches signing keys on demand and keeps them until the response's max-age expires.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	fallbackTTL time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:         url,
		client:      &http.Client{Timeout: defaultJWKSFetchTimeout},
		now:         time.Now,
		fallbackTTL: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc adapts the cache to jwt parsing. Only RS256 keys are accepted.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid, refetching once on expiry or an unknown kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if jwk, ok := c.keys[kid]; ok && c.now().Before(c.expiry) {
		return jwk.Key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = c.fallbackTTL
	}
	c.keys = keys
	c.expiry = c.now().Add(ttl)
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity describes the caller of an internal endpoint.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator guards internal endpoints called by Cloud Scheduler with Google-signed tokens.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

type OIDCOption func(*OIDCValidator)

func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = recorder }
}

func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: nopLogger{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireOIDC accepts bearer tokens signed by the JWKS whose audience matches and whose issuer is allowed.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			fail := func(status int, reason, message string) {
				v.record(ctx, false, reason, start)
				respondAuthError(w, status, reason, message)
			}

			if audience == "" || v.cache == nil {
				fail(http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured")
				return
			}
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				fail(http.StatusUnauthorized, "token_missing", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				v.logger.Printf("auth: oidc verification failed: %v", err)
				if errors.Is(err, ErrJWKSFetchFailed) {
					fail(http.StatusServiceUnavailable, "jwks_unavailable", "oidc keys unavailable")
					return
				}
				fail(http.StatusUnauthorized, "token_invalid", "oidc token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := allowed[issuer]; len(allowed) > 0 && !ok {
				fail(http.StatusUnauthorized, "issuer_mismatch", "oidc issuer mismatch")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				fail(http.StatusUnauthorized, "audience_mismatch", "oidc audience mismatch")
				return
			}

			identity := &ServiceIdentity{Issuer: issuer}
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityContextKey{}, identity)))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}
