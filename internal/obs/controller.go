package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/angrmgmt/cliparino/internal/config"
	"github.com/angrmgmt/cliparino/internal/logger"
	"github.com/angrmgmt/cliparino/internal/twitch"
)

// browser source settings fixed by the desired state.
const (
	browserSourceFPS    = 60
	webpageControlLevel = 2
)

// requester lets tests substitute the protocol client.
type requester interface {
	IsConnected() bool
	Request(ctx context.Context, requestType string, requestData any) (json.RawMessage, error)
}

// Controller enforces the desired scene state and exposes the overlay
// operations the playback engine needs. All operations assume the client
// is already connected; callers check IsConnected first.
type Controller struct {
	client  requester
	desired config.OBSConfig
	// playerURL is the local overlay page the browser source loads.
	playerURL string
	logger    *logger.Logger
}

// NewController binds a controller to a client and the desired state.
func NewController(client requester, desired config.OBSConfig, playerURL string, log *logger.Logger) *Controller {
	return &Controller{
		client:    client,
		desired:   desired,
		playerURL: playerURL,
		logger:    log.WithComponent("scene_controller"),
	}
}

// IsConnected reports whether the underlying client is usable.
func (c *Controller) IsConnected() bool {
	return c.client.IsConnected()
}

// ShowClip points the browser source at the clip's player page and makes
// the overlay visible in the current program scene.
func (c *Controller) ShowClip(ctx context.Context, clip twitch.Clip) error {
	if err := c.SetBrowserSourceURL(ctx, c.desired.SourceName, c.clipPlayerURL(clip)); err != nil {
		return err
	}
	return c.setOverlayVisible(ctx, true)
}

// HideClip hides the overlay and parks the browser source on a blank page
// so audio stops.
func (c *Controller) HideClip(ctx context.Context) error {
	if err := c.setOverlayVisible(ctx, false); err != nil {
		return err
	}
	return c.SetBrowserSourceURL(ctx, c.desired.SourceName, "about:blank")
}

func (c *Controller) clipPlayerURL(clip twitch.Clip) string {
	return fmt.Sprintf("%s?clip=%s&autoplay=true", c.playerURL, url.QueryEscape(clip.ID))
}

// setOverlayVisible toggles the clip scene inside the current program
// scene. Falls back to the clip scene's own source item when the clip
// scene is itself the program scene.
func (c *Controller) setOverlayVisible(ctx context.Context, visible bool) error {
	program, err := c.GetCurrentProgramScene(ctx)
	if err != nil {
		return err
	}

	if program == c.desired.SceneName {
		return c.SetSourceVisibility(ctx, c.desired.SceneName, c.desired.SourceName, visible)
	}
	return c.SetSourceVisibility(ctx, program, c.desired.SceneName, visible)
}

type sceneListResponse struct {
	Scenes []struct {
		SceneName string `json:"sceneName"`
	} `json:"scenes"`
}

type sceneItemListResponse struct {
	SceneItems []struct {
		SourceName  string `json:"sourceName"`
		SceneItemID int    `json:"sceneItemId"`
	} `json:"sceneItems"`
}

type inputSettingsResponse struct {
	InputSettings map[string]any `json:"inputSettings"`
}

type programSceneResponse struct {
	CurrentProgramSceneName string `json:"currentProgramSceneName"`
}

// EnsureClipSceneAndSourceExists drives the compositor to the desired
// state. Safe to call unconditionally; it interrogates before creating.
func (c *Controller) EnsureClipSceneAndSourceExists(ctx context.Context) error {
	sceneExists, err := c.sceneExists(ctx, c.desired.SceneName)
	if err != nil {
		return err
	}
	if !sceneExists {
		c.logger.Info("creating clip scene", slog.String("scene", c.desired.SceneName))
		if _, err := c.client.Request(ctx, "CreateScene", map[string]any{
			"sceneName": c.desired.SceneName,
		}); err != nil {
			return err
		}
	}

	sourceExists, _, err := c.sourceInScene(ctx, c.desired.SceneName, c.desired.SourceName)
	if err != nil {
		return err
	}
	if !sourceExists {
		c.logger.Info("creating browser source",
			slog.String("scene", c.desired.SceneName),
			slog.String("source", c.desired.SourceName))
		if _, err := c.client.Request(ctx, "CreateInput", map[string]any{
			"sceneName":        c.desired.SceneName,
			"inputName":        c.desired.SourceName,
			"inputKind":        "browser_source",
			"inputSettings":    c.desiredSourceSettings(),
			"sceneItemEnabled": true,
		}); err != nil {
			return err
		}
	} else {
		// Reassert the fixed settings on the existing source. The url is
		// left alone so a running clip is not interrupted.
		settings := c.desiredSourceSettings()
		delete(settings, "url")
		if _, err := c.client.Request(ctx, "SetInputSettings", map[string]any{
			"inputName":     c.desired.SourceName,
			"inputSettings": settings,
			"overlay":       true,
		}); err != nil {
			return err
		}
	}

	return c.ensureSceneNested(ctx)
}

// ensureSceneNested adds the clip scene into the current program scene so
// visibility toggles land on screen.
func (c *Controller) ensureSceneNested(ctx context.Context) error {
	program, err := c.GetCurrentProgramScene(ctx)
	if err != nil {
		return err
	}
	if program == c.desired.SceneName {
		return nil
	}

	nested, _, err := c.sourceInScene(ctx, program, c.desired.SceneName)
	if err != nil {
		return err
	}
	if nested {
		return nil
	}

	c.logger.Info("nesting clip scene into program scene",
		slog.String("program_scene", program),
		slog.String("clip_scene", c.desired.SceneName))
	_, err = c.client.Request(ctx, "CreateSceneItem", map[string]any{
		"sceneName":        program,
		"sourceName":       c.desired.SceneName,
		"sceneItemEnabled": true,
	})
	return err
}

func (c *Controller) desiredSourceSettings() map[string]any {
	return map[string]any{
		"url":                   c.playerURL,
		"width":                 c.desired.Width,
		"height":                c.desired.Height,
		"fps":                   browserSourceFPS,
		"fps_custom":            true,
		"reroute_audio":         true,
		"restart_when_active":   true,
		"shutdown":              true,
		"webpage_control_level": webpageControlLevel,
	}
}

func (c *Controller) sceneExists(ctx context.Context, sceneName string) (bool, error) {
	data, err := c.client.Request(ctx, "GetSceneList", nil)
	if err != nil {
		return false, err
	}
	var resp sceneListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode scene list: %w", err)
	}
	for _, scene := range resp.Scenes {
		if scene.SceneName == sceneName {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) sourceInScene(ctx context.Context, sceneName, sourceName string) (bool, int, error) {
	data, err := c.client.Request(ctx, "GetSceneItemList", map[string]any{
		"sceneName": sceneName,
	})
	if err != nil {
		return false, 0, err
	}
	var resp sceneItemListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, 0, fmt.Errorf("decode scene item list: %w", err)
	}
	for _, item := range resp.SceneItems {
		if item.SourceName == sourceName {
			return true, item.SceneItemID, nil
		}
	}
	return false, 0, nil
}

// GetCurrentProgramScene returns the scene currently on program output.
func (c *Controller) GetCurrentProgramScene(ctx context.Context) (string, error) {
	data, err := c.client.Request(ctx, "GetCurrentProgramScene", nil)
	if err != nil {
		return "", err
	}
	var resp programSceneResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode program scene: %w", err)
	}
	return resp.CurrentProgramSceneName, nil
}

// SetBrowserSourceURL overlays a new url onto the browser source settings.
func (c *Controller) SetBrowserSourceURL(ctx context.Context, sourceName, sourceURL string) error {
	_, err := c.client.Request(ctx, "SetInputSettings", map[string]any{
		"inputName":     sourceName,
		"inputSettings": map[string]any{"url": sourceURL},
		"overlay":       true,
	})
	return err
}

// RefreshBrowserSource forces the browser source to reload without cache.
func (c *Controller) RefreshBrowserSource(ctx context.Context, sourceName string) error {
	_, err := c.client.Request(ctx, "PressInputPropertiesButton", map[string]any{
		"inputName":    sourceName,
		"propertyName": "refreshnocache",
	})
	return err
}

// SetSourceVisibility toggles a scene item on or off.
func (c *Controller) SetSourceVisibility(ctx context.Context, sceneName, sourceName string, visible bool) error {
	exists, itemID, err := c.sourceInScene(ctx, sceneName, sourceName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("source %q not found in scene %q", sourceName, sceneName)
	}

	_, err = c.client.Request(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        sceneName,
		"sceneItemId":      itemID,
		"sceneItemEnabled": visible,
	})
	return err
}

// CheckConfigurationDrift reports whether the browser source's live
// url/width/height differ from the desired state.
func (c *Controller) CheckConfigurationDrift(ctx context.Context) (bool, error) {
	data, err := c.client.Request(ctx, "GetInputSettings", map[string]any{
		"inputName": c.desired.SourceName,
	})
	if err != nil {
		return false, err
	}
	var resp inputSettingsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode input settings: %w", err)
	}

	width := settingInt(resp.InputSettings, "width")
	height := settingInt(resp.InputSettings, "height")
	liveURL, _ := resp.InputSettings["url"].(string)

	if width != c.desired.Width || height != c.desired.Height {
		c.logger.Warn("browser source drifted",
			slog.Int("width", width),
			slog.Int("height", height),
			slog.Int("expected_width", c.desired.Width),
			slog.Int("expected_height", c.desired.Height))
		return true, nil
	}

	// During playback the url carries a clip query string, and between
	// clips it is parked on about:blank. Neither is drift; only a url
	// pointing somewhere else entirely is.
	if liveURL != "about:blank" && !strings.HasPrefix(liveURL, c.playerURL) {
		c.logger.Warn("browser source url drifted", slog.String("url", liveURL))
		return true, nil
	}
	return false, nil
}

// settingInt reads a numeric setting; obs-websocket encodes them as JSON
// numbers, which decode to float64 in a generic map.
func settingInt(settings map[string]any, key string) int {
	if v, ok := settings[key].(float64); ok {
		return int(v)
	}
	return 0
}
