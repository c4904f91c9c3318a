package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var ErrKeyNotFound = errors.New("jwks key not found")

// minRefreshInterval stops tokens with made-up key ids from hammering the issuer.
const minRefreshInterval = 10 * time.Second

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSClient resolves RS256 verification keys by kid. Keys live in a TTL cache; a miss
// triggers at most one refresh per minRefreshInterval.
type JWKSClient struct {
	url         string
	ttl         time.Duration
	client      *http.Client
	keys        *cache.Cache
	mu          sync.Mutex
	lastRefresh time.Time
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSClient{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 5 * time.Second},
		keys:   cache.New(ttl, 2*ttl),
	}
}

func (c *JWKSClient) Get(keyID string) (*rsa.PublicKey, error) {
	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}
	if time.Since(c.lastRefresh) < minRefreshInterval {
		return nil, ErrKeyNotFound
	}
	c.lastRefresh = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(keyID); ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *JWKSClient) lookup(keyID string) (*rsa.PublicKey, bool) {
	v, ok := c.keys.Get(keyID)
	if !ok {
		return nil, false
	}
	return v.(*rsa.PublicKey), true
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var data jwks
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	for _, k := range data.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := jwkToPublicKey(k)
		if err != nil {
			continue
		}
		c.keys.Set(k.Kid, pub, c.ttl)
	}
	return nil
}

func jwkToPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil || len(nBytes) == 0 {
		return nil, errors.New("invalid jwk modulus")
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid jwk exponent")
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
