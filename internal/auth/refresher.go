package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/angrmgmt/cliparino/internal/logger"
)

// twitchTokenURL is the platform OAuth token endpoint.
const twitchTokenURL = "https://id.twitch.tv/oauth2/token"

// Refresher layers OAuth refresh on top of the Store and implements the
// REST client's TokenSource contract. Refreshes are serialized so a burst
// of 401s triggers one upstream exchange.
type Refresher struct {
	store  *Store
	oauth  oauth2.Config
	mu     sync.Mutex
	logger *logger.Logger
}

// NewRefresher creates a refresher bound to the store.
func NewRefresher(store *Store, clientID, clientSecret string, log *logger.Logger) *Refresher {
	return &Refresher{
		store: store,
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: twitchTokenURL},
		},
		logger: log.WithComponent("token_refresher"),
	}
}

// WithTokenURL overrides the token endpoint. Used by tests.
func (r *Refresher) WithTokenURL(url string) *Refresher {
	r.oauth.Endpoint.TokenURL = url
	return r
}

// AccessToken returns the current access token, refreshing first when the
// stored token is inside the expiry skew and a refresh token exists.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	bundle, err := r.store.Load()
	if err != nil {
		return "", err
	}

	if bundle.NeedsRefresh(time.Now()) && bundle.RefreshToken != "" {
		if err := r.Refresh(ctx); err != nil {
			return "", err
		}
		bundle, err = r.store.Load()
		if err != nil {
			return "", err
		}
	}

	if bundle.AccessToken == "" {
		return "", ErrNoTokens
	}
	return bundle.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new bundle and persists it.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundle, err := r.store.Load()
	if err != nil {
		return err
	}
	if bundle.RefreshToken == "" {
		return fmt.Errorf("no refresh token stored")
	}

	source := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: bundle.RefreshToken})
	fresh, err := source.Token()
	if err != nil {
		return fmt.Errorf("refresh token exchange: %w", err)
	}

	updated := TokenBundle{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
		UserID:       bundle.UserID,
	}
	// Some platforms rotate the refresh token only sometimes.
	if updated.RefreshToken == "" {
		updated.RefreshToken = bundle.RefreshToken
	}

	if err := r.store.Save(updated); err != nil {
		return err
	}

	r.logger.Info("access token refreshed",
		slog.Time("expires_at", updated.ExpiresAt))
	return nil
}
