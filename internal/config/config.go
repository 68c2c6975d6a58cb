package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the network recorder.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Control API
	APIPort int

	// Storage settings
	DataDir       string
	MaxFileSizeMB int
	BufferSize    int

	// Capture behavior
	PageURLFilter     string
	SessionID         string
	MaxBodyBytes      int
	CaptureWebSockets bool
	MaxFrameBytes     int
	MirrorResources   bool

	// Live stream and notifications
	StreamConfigPath string
	NtfyEndpoint     string

	// Transport selection and browser lifecycle
	UseChromedp   bool
	LaunchBrowser bool
	ProfileDir    string
}

// Load reads configuration from environment variables and an optional
// .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		APIPort:           getEnvIntOrDefault("RECORDER_API_PORT", 8099),
		DataDir:           getEnvOrDefault("RECORDER_DATA_DIR", "./recordings"),
		MaxFileSizeMB:     getEnvIntOrDefault("RECORDER_MAX_FILE_SIZE_MB", 200),
		BufferSize:        getEnvIntOrDefault("RECORDER_BUFFER_SIZE", 5000),
		PageURLFilter:     getEnvOrDefault("RECORDER_PAGE_URL_FILTER", ""),
		SessionID:         getEnvOrDefault("RECORDER_SESSION_ID", ""),
		MaxBodyBytes:      getEnvIntOrDefault("RECORDER_MAX_BODY_BYTES", 50*1024*1024),
		CaptureWebSockets: getEnvBoolOrDefault("RECORDER_CAPTURE_WEBSOCKETS", true),
		MaxFrameBytes:     getEnvIntOrDefault("RECORDER_MAX_FRAME_BYTES", 1024*1024),
		MirrorResources:   getEnvBoolOrDefault("RECORDER_MIRROR_RESOURCES", false),
		StreamConfigPath:  getEnvOrDefault("RECORDER_STREAM_CONFIG", ""),
		NtfyEndpoint:      getEnvOrDefault("RECORDER_NTFY_ENDPOINT", ""),
		UseChromedp:       getEnvBoolOrDefault("RECORDER_USE_CHROMEDP", false),
		LaunchBrowser:     getEnvBoolOrDefault("RECORDER_LAUNCH_BROWSER", false),
		ProfileDir:        getEnvOrDefault("RECORDER_PROFILE_DIR", "./browser_profile"),
	}

	return cfg, nil
}

// GetCDPURL returns the devtools HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
