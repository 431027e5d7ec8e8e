/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication and per-subject rate limiting of transfer creation.
 *
 * @notes
 * - Tokens are verified either against a JWKS endpoint (RSA, keys cached by kid)
 *   or against a shared HMAC secret. Both may be configured at once.
 * - The raw token is kept in the request context so it can be forwarded to the
 *   account-service and customer-service.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and claim validation.
 * - github.com/go-resty/resty/v2: JWKS retrieval.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/transfer-service/internal/app"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	subjectKey     contextKey = "authSubject"
	bearerTokenKey contextKey = "authBearerToken"
)

// AuthConfig configures token verification.
type AuthConfig struct {
	JWKSURL    string
	HMACSecret string
	Audience   string
	Issuer     string
	// AllowedRoles, when set, requires at least one of them in the token's
	// "groups" or "roles" claim.
	AllowedRoles []string
}

func (c AuthConfig) validMethods() []string {
	methods := make([]string, 0, 6)
	if strings.TrimSpace(c.JWKSURL) != "" {
		methods = append(methods, "RS256", "RS384", "RS512")
	}
	if c.HMACSecret != "" {
		methods = append(methods, "HS256", "HS384", "HS512")
	}
	return methods
}

// AuthMiddleware creates a middleware that validates bearer tokens.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := newJWKSCache(cfg.JWKSURL)

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.validMethods()),
		jwt.WithLeeway(30 * time.Second),
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(aud))
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(iss))
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if cfg.HMACSecret == "" {
				return nil, errors.New("hmac tokens are not accepted")
			}
			return []byte(cfg.HMACSecret), nil
		case *jwt.SigningMethodRSA:
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, errors.New("kid not found in token header")
			}
			return keys.key(kid)
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Authorization header required", "")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid Authorization header format", "")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, parserOptions...)
			if err != nil || !token.Valid {
				log.Printf("level=warn component=api msg=\"token rejected\" path=%s err=%v", r.URL.Path, err)
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token", "")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Subject not found in token", "")
				return
			}

			if len(cfg.AllowedRoles) > 0 && !hasAnyRole(claims, cfg.AllowedRoles) {
				writeError(w, http.StatusForbidden, codeForbidden, "Insufficient role", "")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			ctx = context.WithValue(ctx, bearerTokenKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(claims jwt.MapClaims, allowed []string) bool {
	granted := make(map[string]bool)
	for _, claim := range []string{"groups", "roles"} {
		switch values := claims[claim].(type) {
		case []interface{}:
			for _, v := range values {
				if role, ok := v.(string); ok {
					granted[role] = true
				}
			}
		case string:
			for _, role := range strings.Fields(values) {
				granted[role] = true
			}
		}
	}
	for _, role := range allowed {
		if granted[role] {
			return true
		}
	}
	return false
}

// GetSubject retrieves the authenticated subject from the request context.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}

// GetBearerToken retrieves the caller's raw token from the request context.
func GetBearerToken(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey).(string)
	return token
}

// jwksCache fetches RSA keys by kid and keeps them until an unknown kid forces a refresh.
type jwksCache struct {
	url    string
	client *resty.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:    strings.TrimSpace(url),
		client: resty.New().SetTimeout(10 * time.Second),
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if c.url == "" {
		return nil, errors.New("jwks url not configured")
	}
	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *jwksCache) refresh() error {
	resp, err := c.client.R().SetResult(&jwksDocument{}).Get(c.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode())
	}
	doc, ok := resp.Result().(*jwksDocument)
	if !ok || doc == nil {
		return errors.New("empty jwks document")
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "" && k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Printf("level=warn component=api msg=\"skipping malformed jwk\" kid=%s err=%v", k.Kid, err)
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	return nil
}

// parseRSAPublicKey parses an RSA public key from base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

// RateLimiter counts requests per subject in a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware rejects a subject's requests beyond limit per window with
// 429. Limiter errors let the request through.
func RateLimitMiddleware(limiter RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := GetSubject(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, codeRateLimited, "Too many transfer requests; retry later", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var _ RateLimiter = (*app.RedisRateLimiter)(nil)
