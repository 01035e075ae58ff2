package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/logger"
)

func TestRefreshPersistsNewBundle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":3600,"token_type":"bearer"}`))
	}))
	defer server.Close()

	store := newTestStore(t)
	require.NoError(t, store.Save(TokenBundle{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
		UserID:       "42",
	}))

	log := logger.New(logger.Config{Level: slog.LevelError})
	refresher := NewRefresher(store, "cid", "secret", log).WithTokenURL(server.URL)

	require.NoError(t, refresher.Refresh(context.Background()))

	bundle, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-access", bundle.AccessToken)
	assert.Equal(t, "new-refresh", bundle.RefreshToken)
	assert.Equal(t, "42", bundle.UserID, "user id survives refresh")
	assert.True(t, bundle.ExpiresAt.After(time.Now()))
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(TokenBundle{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}))

	log := logger.New(logger.Config{Level: slog.LevelError})
	refresher := NewRefresher(store, "cid", "secret", log)

	assert.Error(t, refresher.Refresh(context.Background()))
}

func TestAccessTokenReturnsStoredToken(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(TokenBundle{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}))

	log := logger.New(logger.Config{Level: slog.LevelError})
	refresher := NewRefresher(store, "cid", "secret", log)

	token, err := refresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", token)
}
