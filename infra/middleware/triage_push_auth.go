package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// GoogleCertsURL serves the keys Google signs push OIDC tokens with.
const GoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n,omitempty"` // RSA modulus
	E   string `json:"e,omitempty"` // RSA exponent
}

// JWKSCache caches a JWKS document with a TTL.
type JWKSCache struct {
	mu        sync.RWMutex
	jwks      *JWKS
	fetchedAt time.Time
	ttl       time.Duration
	url       string
	client    *http.Client
	now       func() time.Time
}

// NewJWKSCache creates a cache for url. A nil client uses http.DefaultClient.
func NewJWKSCache(url string, client *http.Client, ttl time.Duration) *JWKSCache {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSCache{url: url, client: client, ttl: ttl, now: time.Now}
}

// GetKey retrieves a key by kid. An unknown kid forces a refresh, at most
// once per minute, so rotated keys are picked up before the TTL runs out.
func (c *JWKSCache) GetKey(ctx context.Context, kid string) (*JWK, error) {
	key, fresh := c.lookup(kid)
	if key != nil {
		return key, nil
	}
	if !fresh || c.age() >= time.Minute {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		if key, _ = c.lookup(kid); key != nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

func (c *JWKSCache) age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.fetchedAt)
}

func (c *JWKSCache) lookup(kid string) (*JWK, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.jwks == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	for i := range c.jwks.Keys {
		if c.jwks.Keys[i].Kid == kid {
			key := c.jwks.Keys[i]
			return &key, true
		}
	}
	return nil, true
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.url == "" {
		return fmt.Errorf("JWKS URL not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	c.jwks = &jwks
	c.fetchedAt = c.now()
	return nil
}

// parseRSAPublicKey parses RSA public key from JWK
func parseRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "" && jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unexpected key type: %s", jwk.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// PushAuthConfig configures verification of push OIDC tokens.
type PushAuthConfig struct {
	Disabled bool
	Audience string
	// ServiceAccount, when set, must match the token's verified email claim.
	ServiceAccount string
	Keys           *JWKSCache
}

// PushAuth verifies the bearer token Pub/Sub attaches to authenticated push
// requests.
func PushAuth(cfg PushAuthConfig, log zerolog.Logger) fiber.Handler {
	log = log.With().Str("component", "push_auth").Logger()
	if cfg.Disabled {
		log.Warn().Msg("push authentication disabled")
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if cfg.Keys == nil {
		cfg.Keys = NewJWKSCache(GoogleCertsURL, nil, time.Hour)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)

	reject := func(c *fiber.Ctx, reason string, err error) error {
		requestID, _ := c.Locals(localRequestID).(string)
		log.Warn().Err(err).Str("request_id", requestID).Msg(reason)
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success:   false,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     ErrorDetail{Code: "UNAUTHORIZED", Message: reason},
		})
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			return reject(c, "missing authorization", nil)
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("missing kid in token header")
			}
			jwk, err := cfg.Keys.GetKey(c.UserContext(), kid)
			if err != nil {
				return nil, fmt.Errorf("failed to get public key: %w", err)
			}
			return parseRSAPublicKey(jwk)
		})
		if err != nil {
			return reject(c, "invalid token", err)
		}

		if exp, _ := claims.GetExpirationTime(); exp == nil {
			return reject(c, "invalid token", fmt.Errorf("missing exp claim"))
		}

		iss, _ := claims.GetIssuer()
		if !validIssuer(iss) {
			return reject(c, "unexpected issuer", fmt.Errorf("issuer %q", iss))
		}

		if cfg.ServiceAccount != "" {
			email, _ := claims["email"].(string)
			verified, _ := claims["email_verified"].(bool)
			if !verified || !strings.EqualFold(email, cfg.ServiceAccount) {
				return reject(c, "unexpected service account", fmt.Errorf("email %q verified=%t", email, verified))
			}
		}

		c.Locals("push_subject", claims["sub"])
		return c.Next()
	}
}

func validIssuer(iss string) bool {
	for _, want := range googleIssuers {
		if iss == want {
			return true
		}
	}
	return false
}
