package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleGateway is the role carried by credentials minted for the chat gateway.
const RoleGateway = "gateway"

// Credential is a signed bearer token with its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for subject valid for ttl.
func Issue(subject, role, issuer, key string, ttl time.Duration) (Credential, error) {
	return issueAt(time.Now(), subject, role, issuer, key, ttl)
}

func issueAt(now time.Time, subject, role, issuer, key string, ttl time.Duration) (Credential, error) {
	if key == "" {
		return Credential{}, errors.New("signing key required")
	}
	// exp is encoded with second precision
	exp := now.Add(ttl).Truncate(time.Second)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: token, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// Source hands out a cached credential and mints a new one shortly before the
// cached one expires.
type Source struct {
	subject, role, issuer, key string
	ttl                        time.Duration
	now                        func() time.Time

	mu  sync.Mutex
	cur Credential
}

// NewSource creates a credential source for subject.
func NewSource(subject, role, issuer, key string, ttl time.Duration) *Source {
	return &Source{subject: subject, role: role, issuer: issuer, key: key, ttl: ttl, now: time.Now}
}

// Token returns a bearer token that is valid for at least the refresh margin.
func (s *Source) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.cur.Token != "" && now.Before(s.cur.ExpiresAt.Add(-s.margin())) {
		return s.cur.Token, nil
	}
	cred, err := issueAt(now, s.subject, s.role, s.issuer, s.key, s.ttl)
	if err != nil {
		return "", err
	}
	s.cur = cred
	return cred.Token, nil
}

// Invalidate drops the cached credential, e.g. after the peer rejected it.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.cur = Credential{}
	s.mu.Unlock()
}

func (s *Source) margin() time.Duration {
	m := s.ttl / 10
	if m > time.Hour {
		m = time.Hour
	}
	return m
}
