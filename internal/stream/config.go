package stream

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes one named WebSocket feed to surface on the live
// stream. URLPattern is a substring match against the socket URL.
// MessageTypes optionally narrows frames to those whose JSON type
// field matches; TypeField names that field, defaulting to "type".
type FeedConfig struct {
	Name         string   `yaml:"name"`
	URLPattern   string   `yaml:"url_pattern"`
	TypeField    string   `yaml:"type_field,omitempty"`
	MessageTypes []string `yaml:"message_types,omitempty"`
}

// Config is the top-level YAML stream configuration.
type Config struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// LoadConfig reads and validates a stream YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stream config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("stream config: %w", err)
	}
	for i, feed := range cfg.Feeds {
		if feed.Name == "" {
			return nil, fmt.Errorf("stream config: feed %d has no name", i)
		}
		if feed.URLPattern == "" {
			return nil, fmt.Errorf("stream config: feed %q has no url_pattern", feed.Name)
		}
	}
	return &cfg, nil
}
