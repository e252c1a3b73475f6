package carwings

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer token pair of a logged-in user.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no token is present.
func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// AccessExpiry reads the "exp" claim of the access token without verifying
// the signature. ok is false when the token is not a JWT or has no expiry.
func (c Credential) AccessExpiry() (exp time.Time, ok bool) {
	if c.AccessToken == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CredentialStore persists the user's tokens. It is shared by the push
// channel and every authenticated call; implementations must be safe for
// concurrent use and make writes visible to subsequent reads.
type CredentialStore interface {
	Credential() Credential
	SetCredential(Credential) error
	SetAccessToken(token string) error
	Clear() error
}

// MemoryStore is an in-process CredentialStore.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
}

// NewMemoryStore creates a store holding cred.
func NewMemoryStore(cred Credential) *MemoryStore {
	return &MemoryStore{cred: cred}
}

func (s *MemoryStore) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

func (s *MemoryStore) SetCredential(c Credential) error {
	s.mu.Lock()
	s.cred = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetAccessToken(token string) error {
	s.mu.Lock()
	s.cred.AccessToken = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.cred = Credential{}
	s.mu.Unlock()
	return nil
}
