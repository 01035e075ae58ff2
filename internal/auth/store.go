// Package auth persists the platform token bundle encrypted at rest and
// refreshes it when the platform rejects a call.
package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/angrmgmt/cliparino/internal/logger"
)

// expirySkew is how close to expiry a token counts as needing refresh.
const expirySkew = 5 * time.Minute

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// ErrNoTokens is returned when no bundle has been stored yet.
var ErrNoTokens = errors.New("no stored tokens")

// TokenBundle is the persisted authentication state.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id,omitempty"`
}

// NeedsRefresh reports whether the access token is inside the expiry skew.
// A token expiring exactly at now+skew counts as needing refresh.
func (b TokenBundle) NeedsRefresh(now time.Time) bool {
	return !b.ExpiresAt.After(now.Add(expirySkew))
}

// Valid reports whether the bundle can still authenticate calls: an access
// token is present and either it is comfortably unexpired or a refresh
// token is available.
func (b TokenBundle) Valid(now time.Time) bool {
	if b.AccessToken == "" {
		return false
	}
	return !b.NeedsRefresh(now) || b.RefreshToken != ""
}

// Store holds the bundle as a single encrypted blob on disk. The key is
// derived from the host user identity, so the blob is useless when copied
// to another account. Reads are served from an in-memory cache that is
// invalidated on every write or clear.
type Store struct {
	path   string
	mu     sync.Mutex
	cached *TokenBundle
	logger *logger.Logger

	// keyFor derives the sealing key for a salt. Overridable in tests.
	keyFor func(salt []byte) ([keySize]byte, error)
}

// NewStore creates a token store writing to path.
func NewStore(path string, log *logger.Logger) *Store {
	return &Store{
		path:   path,
		logger: log.WithComponent("token_store"),
		keyFor: deriveUserKey,
	}
}

// Load returns the stored bundle, from cache after the first hit.
func (s *Store) Load() (TokenBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (TokenBundle, error) {
	if s.cached != nil {
		return *s.cached, nil
	}

	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return TokenBundle{}, ErrNoTokens
		}
		return TokenBundle{}, fmt.Errorf("read token blob: %w", err)
	}

	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return TokenBundle{}, errors.New("token blob truncated")
	}

	var salt [saltSize]byte
	copy(salt[:], blob[:saltSize])
	key, err := s.keyFor(salt[:])
	if err != nil {
		return TokenBundle{}, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	plain, ok := secretbox.Open(nil, blob[saltSize+nonceSize:], &nonce, &key)
	if !ok {
		return TokenBundle{}, errors.New("token blob cannot be decrypted for this user")
	}

	var bundle TokenBundle
	if err := json.Unmarshal(plain, &bundle); err != nil {
		return TokenBundle{}, fmt.Errorf("decode token bundle: %w", err)
	}

	s.cached = &bundle
	return bundle, nil
}

// Save encrypts and persists the bundle, replacing the cache.
func (s *Store) Save(bundle TokenBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode token bundle: %w", err)
	}

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key, err := s.keyFor(salt[:])
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+nonceSize+len(plain)+secretbox.Overhead)
	blob = append(blob, salt[:]...)
	blob = append(blob, nonce[:]...)
	blob = secretbox.Seal(blob, plain, &nonce, &key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, blob, 0o600); err != nil {
		return fmt.Errorf("write token blob: %w", err)
	}

	s.cached = &bundle
	s.logger.Debug("token bundle saved")
	return nil
}

// Clear removes the blob and invalidates the cache.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token blob: %w", err)
	}
	s.logger.Debug("token bundle cleared")
	return nil
}

// HasValidTokens reports whether stored credentials can authenticate calls.
func (s *Store) HasValidTokens() bool {
	bundle, err := s.Load()
	if err != nil {
		return false
	}
	return bundle.Valid(time.Now())
}

// deriveUserKey derives the sealing key from the host user identity.
func deriveUserKey(salt []byte) ([keySize]byte, error) {
	var key [keySize]byte

	identity := ""
	if u, err := user.Current(); err == nil {
		identity = u.Uid + ":" + u.Username
	}
	if host, err := os.Hostname(); err == nil {
		identity += "@" + host
	}
	if identity == "" {
		return key, errors.New("cannot determine host user identity")
	}

	derived, err := scrypt.Key([]byte(identity), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return key, fmt.Errorf("derive key: %w", err)
	}
	copy(key[:], derived)
	return key, nil
}
