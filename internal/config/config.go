package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration. Scalar connection settings come
// from the environment; the nested behavior sections can additionally be
// loaded from an optional YAML file.
type Config struct {
	// Twitch platform
	TwitchClientID     string `yaml:"-"`
	TwitchClientSecret string `yaml:"-"`
	BroadcasterLogin   string `yaml:"broadcaster_login"`

	// OBS connection and desired scene state
	OBS OBSConfig `yaml:"obs"`

	// Local player/overlay server
	Player PlayerConfig `yaml:"player"`

	// Behavior sections
	Shoutout     ShoutoutConfig     `yaml:"shoutout"`
	ClipSearch   ClipSearchConfig   `yaml:"clip_search"`
	ChatFeedback ChatFeedbackConfig `yaml:"chat_feedback"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Token storage
	TokenFile string `yaml:"-"`

	// Server
	ServerShutdownTimeoutSeconds int `yaml:"-"`
}

// OBSConfig is the fixed point the scene controller drives OBS toward.
type OBSConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Password   string `yaml:"password"`
	SceneName  string `yaml:"scene_name"`
	SourceName string `yaml:"source_name"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
}

// PlayerConfig configures the local overlay server the browser source loads.
type PlayerConfig struct {
	URL  string `yaml:"url"`
	Port int    `yaml:"port"`
}

// ShoutoutConfig configures the !so command.
type ShoutoutConfig struct {
	MessageTemplate       string `yaml:"message_template"`
	MessageEnabled        bool   `yaml:"message_enabled"`
	UseFeaturedClipsFirst bool   `yaml:"use_featured_clips_first"`
	MaxClipLengthSeconds  int    `yaml:"max_clip_length_seconds"`
	NativeShoutoutEnabled bool   `yaml:"native_shoutout_enabled"`
	OnRaid                bool   `yaml:"on_raid"`
}

// ClipSearchConfig configures !watch @broadcaster term searches.
type ClipSearchConfig struct {
	SearchWindowDays       int     `yaml:"search_window_days"`
	FuzzyMatchThreshold    float64 `yaml:"fuzzy_match_threshold"`
	MaxResults             int     `yaml:"max_results"`
	RequireApproval        bool    `yaml:"require_approval"`
	ApprovalTimeoutSeconds int     `yaml:"approval_timeout_seconds"`
	// ExemptRoles lists chat roles that skip moderator approval.
	// Broadcaster and moderator are always exempt.
	ExemptRoles []string `yaml:"exempt_roles"`
}

// ChatFeedbackConfig configures outbound chat notices.
type ChatFeedbackConfig struct {
	Enabled            bool    `yaml:"enabled"`
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
	ShowApprovalStatus bool    `yaml:"show_approval_status"`
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment and the optional
// YAML config file. Called once at startup.
func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		TwitchClientID:     getEnvOrDefault("TWITCH_CLIENT_ID", ""),
		TwitchClientSecret: getEnvOrDefault("TWITCH_CLIENT_SECRET", ""),
		BroadcasterLogin:   getEnvOrDefault("BROADCASTER_LOGIN", ""),

		OBS: OBSConfig{
			Host:       getEnvOrDefault("OBS_HOST", "localhost"),
			Port:       getEnvAsInt("OBS_PORT", 4455),
			Password:   getEnvOrDefault("OBS_PASSWORD", ""),
			SceneName:  getEnvOrDefault("OBS_SCENE_NAME", "Cliparino"),
			SourceName: getEnvOrDefault("OBS_SOURCE_NAME", "Player"),
			Width:      getEnvAsInt("OBS_WIDTH", 1920),
			Height:     getEnvAsInt("OBS_HEIGHT", 1080),
		},

		Player: PlayerConfig{
			URL:  getEnvOrDefault("PLAYER_URL", "http://localhost:8089/player"),
			Port: getEnvAsInt("PLAYER_PORT", 8089),
		},

		Shoutout: ShoutoutConfig{
			MessageTemplate:       getEnvOrDefault("SHOUTOUT_MESSAGE_TEMPLATE", "Check out {channel}! They were last playing {game}."),
			MessageEnabled:        getEnvOrDefault("SHOUTOUT_MESSAGE_ENABLED", "true") == "true",
			UseFeaturedClipsFirst: getEnvOrDefault("SHOUTOUT_FEATURED_FIRST", "true") == "true",
			MaxClipLengthSeconds:  getEnvAsInt("SHOUTOUT_MAX_CLIP_LENGTH_SECONDS", 60),
			NativeShoutoutEnabled: getEnvOrDefault("SHOUTOUT_NATIVE_ENABLED", "true") == "true",
			OnRaid:                getEnvOrDefault("SHOUTOUT_ON_RAID", "false") == "true",
		},

		ClipSearch: ClipSearchConfig{
			SearchWindowDays:       getEnvAsInt("CLIP_SEARCH_WINDOW_DAYS", 90),
			FuzzyMatchThreshold:    getEnvAsFloat("CLIP_SEARCH_FUZZY_THRESHOLD", 0.4),
			MaxResults:             getEnvAsInt("CLIP_SEARCH_MAX_RESULTS", 5),
			RequireApproval:        getEnvOrDefault("CLIP_SEARCH_REQUIRE_APPROVAL", "true") == "true",
			ApprovalTimeoutSeconds: getEnvAsInt("CLIP_SEARCH_APPROVAL_TIMEOUT_SECONDS", 30),
		},

		ChatFeedback: ChatFeedbackConfig{
			Enabled:            getEnvOrDefault("CHAT_FEEDBACK_ENABLED", "true") == "true",
			MinIntervalSeconds: getEnvAsFloat("CHAT_FEEDBACK_MIN_INTERVAL_SECONDS", 3),
			ShowApprovalStatus: getEnvOrDefault("CHAT_FEEDBACK_SHOW_APPROVAL_STATUS", "true") == "true",
		},

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		TokenFile: getEnvOrDefault("TOKEN_FILE", defaultTokenFile()),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10),
	}

	// Layer the optional config file over the env defaults.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "")
	if configFilePath != "" {
		configFile, err := os.Open(configFilePath)
		if err != nil {
			log.Fatalf("Failed to open config file: %v", err)
		}
		defer configFile.Close()

		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if AppConfig.TwitchClientID == "" {
		log.Println("Warning: Twitch client ID is missing. Please set TWITCH_CLIENT_ID environment variable.")
	}

	if AppConfig.BroadcasterLogin == "" {
		log.Println("Warning: Broadcaster login is missing. Please set BROADCASTER_LOGIN environment variable.")
	}
}

// LoadConfigFile decodes a YAML config file over an existing Config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}

// ApprovalTimeout returns the approval wait timeout as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ClipSearch.ApprovalTimeoutSeconds) * time.Second
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return dir + string(os.PathSeparator) + "cliparino" + string(os.PathSeparator) + "tokens.bin"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
