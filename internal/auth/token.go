// Package auth supplies the bearer token used by the REST and realtime clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoToken is returned when no credential is stored.
var ErrNoToken = errors.New("auth: no token")

// TokenProvider returns the current bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Clear() error
}

// FileTokens keeps the token in a 0600 file under the session directory.
type FileTokens struct {
	path string

	mu     sync.Mutex
	cached string
}

// NewFileTokens creates a provider backed by path.
func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

// Token reads the stored token.
func (f *FileTokens) Token(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != "" {
		return f.cached, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	f.cached = tok
	return tok, nil
}

// Set stores a new token.
func (f *FileTokens) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	f.cached = token
	return nil
}

// Clear removes the stored token.
func (f *FileTokens) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = ""
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Static is an in-memory provider.
type Static struct {
	mu    sync.Mutex
	token string
}

// NewStatic creates a provider holding token.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token returns the held token.
func (s *Static) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Set replaces the held token.
func (s *Static) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear forgets the token.
func (s *Static) Clear() error {
	s.Set("")
	return nil
}
