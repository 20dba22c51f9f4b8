package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	ActorIDKey    contextKey = "actor_id"
	ActorEmailKey contextKey = "actor_email"
)

// ActorIDHeader carries the caller identity in development mode.
const ActorIDHeader = "X-Actor-ID"

// Claims are the token claims the service reads. The subject is the actor id.
// Roles are never taken from the token; they are resolved per household.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification instead of JWKS.
	SigningKey []byte
	Skipper    middleware.Skipper
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches RSA keys fetched from a JWKS endpoint. A miss on an unknown
// kid forces a refetch so key rotation is picked up before the TTL expires.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the RSA public key for kid.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

func jwksKeyFunc(cache *JWKSCache) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

// Verifier parses and validates bearer tokens.
type Verifier struct {
	keyFunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

// NewVerifier builds a verifier from cfg. Without a signing key or JWKS URL
// the issuer's OIDC discovery document supplies the JWKS location.
func NewVerifier(cfg JWTConfig) (*Verifier, error) {
	v := &Verifier{}
	if len(cfg.SigningKey) > 0 {
		key := cfg.SigningKey
		v.keyFunc = func(*jwt.Token) (interface{}, error) { return key, nil }
		v.opts = append(v.opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" {
			if cfg.Issuer == "" {
				return nil, fmt.Errorf("auth: signing key, JWKS URL or issuer required")
			}
			provider, err := NewOIDCProvider(cfg.Issuer)
			if err != nil {
				return nil, err
			}
			if len(provider.IDTokenSigningAlgValues) > 0 && !provider.SupportsAlg("RS256") {
				return nil, fmt.Errorf("auth: issuer %s does not sign with RS256", cfg.Issuer)
			}
			jwksURL = provider.JWKSURI
		}
		v.keyFunc = jwksKeyFunc(NewJWKSCache(jwksURL, defaultJWKSCacheTTL))
		v.opts = append(v.opts, jwt.WithValidMethods([]string{"RS256"}))
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

// Verify returns the claims of a valid token whose subject is an actor id.
func (v *Verifier) Verify(tokenStr string) (*Claims, uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc, v.opts...)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if !token.Valid {
		return nil, uuid.Nil, fmt.Errorf("invalid token")
	}
	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("subject is not an actor id: %w", err)
	}
	return claims, actorID, nil
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

func withClaims(c echo.Context, actorID uuid.UUID, claims *Claims) {
	ctx := WithActorID(c.Request().Context(), actorID)
	if claims != nil && claims.Email != "" {
		ctx = context.WithValue(ctx, ActorEmailKey, claims.Email)
	}
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware rejects requests without a valid bearer token and puts the
// actor id on the request context.
func JWTMiddleware(v *Verifier, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			claims, actorID, err := v.Verify(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			withClaims(c, actorID, claims)
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-Actor-ID header. A bearer token, when sent,
// is still verified if a verifier is configured.
func DevAuthMiddleware(v *Verifier, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			if raw := c.Request().Header.Get(ActorIDHeader); raw != "" {
				actorID, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+ActorIDHeader)
				}
				withClaims(c, actorID, nil)
				return next(c)
			}
			if v == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing "+ActorIDHeader)
			}
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			claims, actorID, err := v.Verify(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			withClaims(c, actorID, claims)
			return next(c)
		}
	}
}

// WithActorID returns ctx carrying the authenticated actor.
func WithActorID(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// ActorIDFromContext returns uuid.Nil when the request is unauthenticated.
func ActorIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ActorIDKey).(uuid.UUID)
	return id
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(ActorEmailKey).(string)
	return email
}
