package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// PluginSettings configures a plugin runner process. It is read from a TOML file
// so several plugins can share one settings file, one table per plugin.
type PluginSettings struct {
	HubURL    string `toml:"hub_url"`
	HubToken  string `toml:"hub_token,omitempty"`
	Transport string `toml:"transport,omitempty"` // http (default) or grpc
	GRPCAddr  string `toml:"grpc_addr,omitempty"`
	NATSURL   string `toml:"nats_url,omitempty"`

	// DatabaseURL backs the knowledge tracer's mastery records. Empty = in-memory.
	DatabaseURL string `toml:"database_url,omitempty"`

	Plugins map[string]PluginEntry `toml:"plugins"`
}

// PluginEntry holds the settings of a single plugin.
type PluginEntry struct {
	Name                  string   `toml:"name"`
	TransactionManagement string   `toml:"transaction_management"`
	PollInterval          duration `toml:"poll_interval,omitempty"`
	Timeout               duration `toml:"timeout,omitempty"`
	VerifySkills          bool     `toml:"verify_skills,omitempty"`
	FragmentNames         []string `toml:"fragment_names,omitempty"`
}

// duration lets TOML files spell durations as strings ("500ms", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Interval returns the poll interval, defaulting to one second.
func (e PluginEntry) Interval() time.Duration {
	if e.PollInterval.Duration <= 0 {
		return time.Second
	}
	return e.PollInterval.Duration
}

// AggregateTimeout returns the aggregation timeout, defaulting to 30 seconds.
func (e PluginEntry) AggregateTimeout() time.Duration {
	if e.Timeout.Duration <= 0 {
		return 30 * time.Second
	}
	return e.Timeout.Duration
}

// LoadPluginSettings reads plugin settings from path. A missing file yields
// defaults pointing at a local hub.
func LoadPluginSettings(path string) (*PluginSettings, error) {
	s := &PluginSettings{
		HubURL:  "http://localhost:8080",
		Plugins: map[string]PluginEntry{},
	}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if s.Plugins == nil {
		s.Plugins = map[string]PluginEntry{}
	}
	return s, nil
}

// Plugin returns the entry for key, falling back to an entry named after key.
func (s *PluginSettings) Plugin(key string) PluginEntry {
	e, ok := s.Plugins[key]
	if !ok || e.Name == "" {
		e.Name = key
	}
	return e
}
