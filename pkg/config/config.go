package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Backend struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		RetryAttempts  int           `yaml:"retry_attempts"`
	} `yaml:"backend"`

	Signaling struct {
		URL               string        `yaml:"url"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
	} `yaml:"signaling"`

	Rendezvous struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
	} `yaml:"rendezvous"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		Width      int  `yaml:"width"`
		Height     int  `yaml:"height"`
		FrameRate  int  `yaml:"frame_rate"`
		Microphone bool `yaml:"microphone"`
	} `yaml:"media"`

	Chat struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"chat"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		StatusAddress     string `yaml:"status_address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be > 0")
	}
	if c.Backend.RetryAttempts < 0 {
		return fmt.Errorf("backend.retry_attempts must be >= 0")
	}

	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url must not be empty")
	}
	if c.Signaling.ReconnectAttempts < 0 {
		return fmt.Errorf("signaling.reconnect_attempts must be >= 0")
	}
	if c.Signaling.ReconnectDelay <= 0 {
		return fmt.Errorf("signaling.reconnect_delay must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("signaling.write_timeout must be > 0")
	}

	if c.Rendezvous.URL == "" {
		return fmt.Errorf("rendezvous.url must not be empty")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Media.Width <= 0 || c.Media.Height <= 0 {
		return fmt.Errorf("media.width and media.height must be > 0")
	}
	if c.Media.FrameRate <= 0 {
		return fmt.Errorf("media.frame_rate must be > 0")
	}

	if c.Chat.MessagesPerSecond <= 0 {
		return fmt.Errorf("chat.messages_per_second must be > 0")
	}
	if c.Chat.Burst <= 0 {
		return fmt.Errorf("chat.burst must be > 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.StatusAddress == "" {
		return fmt.Errorf("monitoring.status_address must not be empty when prometheus_enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	var lvl zapcore.Level
	if err := lvl.Set(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Backend.RequestTimeout = 30 * time.Second
	cfg.Backend.RetryAttempts = 2

	cfg.Signaling.URL = "ws://localhost:8000"
	cfg.Signaling.ReconnectAttempts = 5
	cfg.Signaling.ReconnectDelay = 500 * time.Millisecond
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second

	cfg.Rendezvous.URL = "ws://localhost:9000"
	cfg.Rendezvous.Key = "peerjs"

	cfg.Media.Width = 1920
	cfg.Media.Height = 1080
	cfg.Media.FrameRate = 30
	cfg.Media.Microphone = true

	cfg.Chat.MessagesPerSecond = 1
	cfg.Chat.Burst = 3

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.StatusAddress = ":9091"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "redlive"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if url := os.Getenv("REDLIVE_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if url := os.Getenv("REDLIVE_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if url := os.Getenv("REDLIVE_RENDEZVOUS_URL"); url != "" {
		c.Rendezvous.URL = url
	}
	if level := os.Getenv("REDLIVE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if token := os.Getenv("REDLIVE_AUTH_TOKEN"); token != "" {
		c.Auth.Token = token
	}
}
