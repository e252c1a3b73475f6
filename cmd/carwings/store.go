package main

import (
	"sync"

	carwings "github.com/opencarwings/carwings-go"
)

// fileStore keeps the tokens in the [auth] section of the config file.
// Every write is flushed to disk before it becomes visible.
type fileStore struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

var _ carwings.CredentialStore = (*fileStore)(nil)

func openFileStore(path string) (*fileStore, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	return &fileStore{path: path, cfg: cfg}, nil
}

func (s *fileStore) Credential() carwings.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return carwings.Credential{
		AccessToken:  s.cfg.Auth.AccessToken,
		RefreshToken: s.cfg.Auth.RefreshToken,
	}
}

func (s *fileStore) SetCredential(c carwings.Credential) error {
	return s.Update(func(cfg *Config) {
		cfg.Auth.AccessToken = c.AccessToken
		cfg.Auth.RefreshToken = c.RefreshToken
	})
}

func (s *fileStore) SetAccessToken(token string) error {
	return s.Update(func(cfg *Config) { cfg.Auth.AccessToken = token })
}

// Clear drops the tokens from memory even when the file cannot be written,
// so a logged-out process never serves them again.
func (s *fileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Auth = ConfigAuth{}
	return writeConfig(s.path, s.cfg)
}

// Config returns a copy of the stored configuration.
func (s *fileStore) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// Update applies fn to the configuration and writes it out. The in-memory
// copy is left untouched when the write fails.
func (s *fileStore) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cfg
	fn(&next)
	if err := writeConfig(s.path, &next); err != nil {
		return err
	}
	*s.cfg = next
	return nil
}
