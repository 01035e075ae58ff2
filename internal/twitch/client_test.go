package twitch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/errkind"
	"github.com/angrmgmt/cliparino/internal/logger"
)

// fakeTokens implements TokenSource with a swappable token.
type fakeTokens struct {
	token      atomic.Value
	refreshed  atomic.Int32
	refreshErr error
}

func newFakeTokens(token string) *fakeTokens {
	ft := &fakeTokens{}
	ft.token.Store(token)
	return ft
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	return f.token.Load().(string), nil
}

func (f *fakeTokens) Refresh(ctx context.Context) error {
	f.refreshed.Add(1)
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token.Store("fresh-token")
	return nil
}

func newTestClient(t *testing.T, handler http.Handler, tokens TokenSource) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		BaseURL:        server.URL,
		ClientID:       "client-id",
		Tokens:         tokens,
		Logger:         logger.New(logger.Config{Level: slog.LevelError}),
		RetryBaseDelay: time.Millisecond,
	})
	return client, server
}

func TestGetClipByIDHydratesGame(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-id", r.Header.Get("Client-ID"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "ABC", r.URL.Query().Get("id"))
		w.Write([]byte(`{"data":[{"id":"ABC","url":"https://clips.twitch.tv/ABC","title":"Nice","game_id":"123","duration":9.4,"view_count":12,"broadcaster_id":"42","broadcaster_name":"StreamerX","created_at":"2026-01-02T15:04:05Z"}]}`))
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"123"}, r.URL.Query()["id"])
		w.Write([]byte(`{"data":[{"id":"123","name":"Tetris"}]}`))
	})

	client, _ := newTestClient(t, mux, newFakeTokens("token-1"))

	clip, err := client.GetClipByID(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", clip.ID)
	assert.Equal(t, 10, clip.DurationSeconds)
	assert.Equal(t, "Tetris", clip.GameName)
}

func TestClipNotFoundIsInvalidInput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clips", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	client, _ := newTestClient(t, mux, newFakeTokens("t"))

	_, err := client.GetClipByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidInput))
}

func TestUnauthorizedTriggersSingleRefreshAndRetry(t *testing.T) {
	tokens := newFakeTokens("stale-token")

	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":"999"}]}`))
	})

	client, _ := newTestClient(t, mux, tokens)

	id, err := client.GetAuthenticatedUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "999", id)
	assert.Equal(t, int32(1), tokens.refreshed.Load())
}

func TestRefreshFailureSurfacesAuthError(t *testing.T) {
	tokens := newFakeTokens("stale-token")
	tokens.refreshErr = assert.AnError

	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client, _ := newTestClient(t, mux, tokens)

	_, err := client.GetAuthenticatedUserID(context.Background())
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.AuthExpired))
}

func TestServerErrorsAreRetriedUpToThreeAttempts(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[{"game_name":"Tetris","broadcaster_name":"StreamerX"}]}`))
	})

	client, _ := newTestClient(t, mux, newFakeTokens("t"))

	info, err := client.GetChannelInfo(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Tetris", info.GameName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, _ := newTestClient(t, mux, newFakeTokens("t"))

	_, err := client.GetChannelInfo(context.Background(), "42")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Transient))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendChatMessageValidatesInput(t *testing.T) {
	client, _ := newTestClient(t, http.NewServeMux(), newFakeTokens("t"))

	err := client.SendChatMessage(context.Background(), "", "1", "hello")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.InvalidInput))
}

func TestCreateEventSubSubscriptionFailureIsSubscriptionKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client, _ := newTestClient(t, mux, newFakeTokens("t"))

	err := client.CreateEventSubSubscription(context.Background(), "channel.chat.message", "1",
		map[string]string{"broadcaster_user_id": "42", "user_id": "42"}, "session-1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Subscription))
}
