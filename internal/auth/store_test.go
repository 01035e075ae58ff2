package auth

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	s := NewStore(filepath.Join(t.TempDir(), "tokens.bin"), log)
	// Fixed key keeps the test independent of the host user database.
	s.keyFor = func(salt []byte) ([keySize]byte, error) {
		var key [keySize]byte
		copy(key[:], salt)
		copy(key[saltSize:], salt)
		return key, nil
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	bundle := TokenBundle{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		UserID:       "42",
	}
	require.NoError(t, s.Save(bundle))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, bundle, loaded)
}

func TestLoadWithoutBlobReturnsErrNoTokens(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestClearInvalidatesCache(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(TokenBundle{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, s.Clear())

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoTokens)
	assert.False(t, s.HasValidTokens())
}

func TestBlobOnDiskIsNotPlaintext(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(TokenBundle{AccessToken: "super-secret-token", ExpiresAt: time.Now()}))

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
}

func TestHasValidTokens(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		bundle TokenBundle
		want   bool
	}{
		{"fresh token", TokenBundle{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, true},
		{"expiring soon without refresh", TokenBundle{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}, false},
		{"expiring soon with refresh", TokenBundle{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Minute)}, true},
		{"exactly at skew boundary", TokenBundle{AccessToken: "a", ExpiresAt: now.Add(5 * time.Minute)}, false},
		{"no access token", TokenBundle{RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bundle.Valid(now))
		})
	}
}
