package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	DefaultCacheTTL    = time.Hour
	DefaultCacheBytes  = 30 << 20
)

var ErrInvalidCredential = errors.New("invalid credential")

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	UserID    string
	ExpiresAt int64
}

type tokenClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret        string        `json:"secret"`
	secretBytes   []byte        `json:"-"`
	TokenExpiry   time.Duration `json:"tokenExpiry"`
	CacheTTL      time.Duration `json:"cacheTTL"`
	CacheMaxBytes int64         `json:"cacheMaxBytes"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheMaxBytes == 0 {
		c.CacheMaxBytes = DefaultCacheBytes
	}

	return nil
}

// Service issues and verifies bearer tokens. Successful verifications are
// memoized so that every inbound socket event does not redo the signature
// check.
type Service struct {
	Config
	cache *verifyCache
	now   func() time.Time
}

func NewService(ctx context.Context, config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Config: config,
		cache:  newVerifyCache(ctx, config.CacheTTL, config.CacheMaxBytes),
		now:    time.Now,
	}, nil
}

// Issue creates a signed token for the user. Returns the token and its
// expiry as a Unix timestamp.
func (s *Service) Issue(userID string) (string, int64, error) {
	now := s.now()
	exp := now.Add(s.TokenExpiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := token.SignedString(s.secretBytes)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp.Unix(), nil
}

// Verify checks the token signature and expiry. The result is cached keyed
// by the raw token; cached entries expire after CacheTTL regardless of use
// and the oldest entries are evicted once the cache exceeds CacheMaxBytes.
func (s *Service) Verify(token string) (Claims, error) {
	if c, ok := s.cache.get(token); ok {
		// Cached entries may outlive the token itself within the TTL
		// window, so the expiry is still checked.
		if s.now().Unix() >= c.ExpiresAt {
			return Claims{}, ErrInvalidCredential
		}
		return c, nil
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc,
		func(t *jwt.Token) (any, error) { return s.secretBytes, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || tc.UserID == "" {
		return Claims{}, ErrInvalidCredential
	}

	c := Claims{UserID: tc.UserID, ExpiresAt: tc.ExpiresAt.Unix()}
	s.cache.put(token, c)
	return c, nil
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
