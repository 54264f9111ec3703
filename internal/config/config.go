package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Oura        OuraConfig
	Store       StoreConfig
	Stream      StreamConfig
	Polling     PollingConfig
	Sink        SinkConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path string
}

type OuraConfig struct {
	ClientID                  string
	ClientSecret              string
	WebhookSecret             string
	RedirectURI               string
	AuthURL                   string
	TokenURL                  string
	APIBaseURL                string
	InitialRefreshToken       string
	SignatureToleranceSeconds int
}

type StoreConfig struct {
	RetentionDays      int
	MaxEvents          int
	PruneIntervalHours int
}

type StreamConfig struct {
	BufferSize int
}

type PollingConfig struct {
	Enabled         bool
	IntervalSeconds int
	LookbackDays    int
	DataTypes       []string
}

type SinkConfig struct {
	Endpoint string
	Token    string
	Secret   string
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("oura_stream_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("oura_stream_port", 8080)
	v.SetDefault("oura_stream_db_path", "data/oura-streaming")
	v.SetDefault("oura_client_id", "")
	v.SetDefault("oura_client_secret", "")
	v.SetDefault("oura_webhook_secret", "")
	v.SetDefault("oura_redirect_uri", "")
	v.SetDefault("oura_auth_url", "https://cloud.ouraring.com/oauth/authorize")
	v.SetDefault("oura_token_url", "https://api.ouraring.com/oauth/token")
	v.SetDefault("oura_api_base_url", "https://api.ouraring.com/v2")
	v.SetDefault("oura_initial_refresh_token", "")
	v.SetDefault("oura_signature_tolerance_seconds", 300)
	v.SetDefault("oura_stream_retention_days", 30)
	v.SetDefault("oura_stream_max_events", 10000)
	v.SetDefault("oura_stream_prune_interval_hours", 24)
	v.SetDefault("oura_stream_buffer", 16)
	v.SetDefault("oura_polling_enabled", false)
	v.SetDefault("oura_polling_interval_seconds", 300)
	v.SetDefault("oura_poll_lookback_days", 1)
	v.SetDefault("oura_poll_data_types", "daily_sleep")
	v.SetDefault("oura_sink_endpoint", "")
	v.SetDefault("oura_sink_token", "")
	v.SetDefault("oura_sink_secret", "")

	env := resolveEnvironment(v)
	port := v.GetInt("oura_stream_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid OURA_STREAM_PORT: %d", port)
	}

	redirectURI := strings.TrimSpace(v.GetString("oura_redirect_uri"))
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d/auth/callback", port)
	}

	retentionDays := v.GetInt("oura_stream_retention_days")
	if retentionDays <= 0 {
		retentionDays = 30
	}

	maxEvents := v.GetInt("oura_stream_max_events")
	if maxEvents < 0 {
		maxEvents = 0
	}

	pruneInterval := v.GetInt("oura_stream_prune_interval_hours")
	if pruneInterval <= 0 {
		pruneInterval = 24
	}

	bufferSize := v.GetInt("oura_stream_buffer")
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if bufferSize > 1024 {
		bufferSize = 1024
	}

	pollInterval := v.GetInt("oura_polling_interval_seconds")
	if pollInterval <= 0 {
		pollInterval = 300
	}

	lookbackDays := v.GetInt("oura_poll_lookback_days")
	if lookbackDays <= 0 {
		lookbackDays = 1
	}

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("oura_stream_db_path")),
		},
		Oura: OuraConfig{
			ClientID:                  strings.TrimSpace(v.GetString("oura_client_id")),
			ClientSecret:              strings.TrimSpace(v.GetString("oura_client_secret")),
			WebhookSecret:             strings.TrimSpace(v.GetString("oura_webhook_secret")),
			RedirectURI:               redirectURI,
			AuthURL:                   strings.TrimSpace(v.GetString("oura_auth_url")),
			TokenURL:                  strings.TrimSpace(v.GetString("oura_token_url")),
			APIBaseURL:                strings.TrimSpace(v.GetString("oura_api_base_url")),
			InitialRefreshToken:       strings.TrimSpace(v.GetString("oura_initial_refresh_token")),
			SignatureToleranceSeconds: v.GetInt("oura_signature_tolerance_seconds"),
		},
		Store: StoreConfig{
			RetentionDays:      retentionDays,
			MaxEvents:          maxEvents,
			PruneIntervalHours: pruneInterval,
		},
		Stream: StreamConfig{BufferSize: bufferSize},
		Polling: PollingConfig{
			Enabled:         v.GetBool("oura_polling_enabled"),
			IntervalSeconds: pollInterval,
			LookbackDays:    lookbackDays,
			DataTypes:       splitDataTypes(v.GetString("oura_poll_data_types")),
		},
		Sink: SinkConfig{
			Endpoint: strings.TrimSpace(v.GetString("oura_sink_endpoint")),
			Token:    strings.TrimSpace(v.GetString("oura_sink_token")),
			Secret:   strings.TrimSpace(v.GetString("oura_sink_secret")),
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/oura-streaming"
	}
	if !cfg.IsLocalDevelopment() && cfg.Polling.Enabled && cfg.Oura.ClientID == "" {
		return Config{}, fmt.Errorf("OURA_CLIENT_ID is required when polling is enabled outside local/dev environments")
	}

	return cfg, nil
}

func splitDataTypes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

// SignatureTolerance returns the replay window for timestamped signatures.
func (c Config) SignatureTolerance() time.Duration {
	return time.Duration(c.Oura.SignatureToleranceSeconds) * time.Second
}

// Retention returns the event retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// PruneInterval returns how often the background pruner runs.
func (c Config) PruneInterval() time.Duration {
	return time.Duration(c.Store.PruneIntervalHours) * time.Hour
}

// PollInterval returns the poller cycle interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// SinkEnabled reports whether the forward sink is fully configured.
func (c Config) SinkEnabled() bool {
	return c.Sink.Endpoint != "" && c.Sink.Token != "" && c.Sink.Secret != ""
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"oura_stream_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
