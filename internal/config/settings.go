package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General  GeneralSettings `json:"general" mapstructure:"general"`
	RPC      RPCSettings     `json:"rpc" mapstructure:"rpc"`
	Defaults TaskOptions     `json:"defaults" mapstructure:"defaults"`
}

// GeneralSettings contains scheduling and housekeeping settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir" mapstructure:"default_download_dir"`

	PollInterval         time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	ReconnectInterval    time.Duration `json:"reconnect_interval" mapstructure:"reconnect_interval"`
	ReconnectMaxInterval time.Duration `json:"reconnect_max_interval" mapstructure:"reconnect_max_interval"`
	ReconnectBackoff     BackoffMode   `json:"reconnect_backoff" mapstructure:"reconnect_backoff"`

	LogLevel          string `json:"log_level" mapstructure:"log_level"`
	LogRetentionCount int    `json:"log_retention_count" mapstructure:"log_retention_count"`
}

// RPCSettings tunes the daemon client. Call timeouts come from Defaults.Timeout and
// Defaults.ConnectTimeout so the daemon and this process agree on what "too slow" means.
type RPCSettings struct {
	Path              string  `json:"path" mapstructure:"path"`
	MaxCallsPerSecond float64 `json:"max_calls_per_second" mapstructure:"max_calls_per_second"` // 0 = unlimited
}

// BackoffMode selects how the reconnect delay grows after consecutive failures.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

const (
	DefaultPollInterval      = 1 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultCallTimeout       = 10 // seconds
	DefaultConnectTimeout    = 5  // seconds
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	defaultDir := ""

	// Check XDG_DOWNLOAD_DIR
	if xdgDir := os.Getenv("XDG_DOWNLOAD_DIR"); xdgDir != "" {
		if info, err := os.Stat(xdgDir); err == nil && info.IsDir() {
			defaultDir = xdgDir
		}
	}

	// Check ~/Downloads if not set
	if defaultDir == "" && homeDir != "" {
		downloadsDir := filepath.Join(homeDir, "Downloads")
		if info, err := os.Stat(downloadsDir); err == nil && info.IsDir() {
			defaultDir = downloadsDir
		}
	}

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir:   defaultDir,
			PollInterval:         DefaultPollInterval,
			ReconnectInterval:    DefaultReconnectInterval,
			ReconnectMaxInterval: 2 * time.Minute,
			ReconnectBackoff:     BackoffExponential,
			LogLevel:             "info",
			LogRetentionCount:    5,
		},
		RPC: RPCSettings{
			Path: "/jsonrpc",
		},
		Defaults: TaskOptions{
			Split:                  5,
			MaxConnectionPerServer: 1,
			Timeout:                DefaultCallTimeout,
			ConnectTimeout:         DefaultConnectTimeout,
		},
	}
}

// Validate rejects settings the scheduler or daemon client cannot work with.
func (s *Settings) Validate() error {
	var errs []error
	if s.General.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("general.poll_interval must be > 0, got %v", s.General.PollInterval))
	}
	if s.General.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("general.reconnect_interval must be > 0, got %v", s.General.ReconnectInterval))
	}
	if s.General.ReconnectMaxInterval < s.General.ReconnectInterval {
		errs = append(errs, fmt.Errorf("general.reconnect_max_interval (%v) is below reconnect_interval (%v)",
			s.General.ReconnectMaxInterval, s.General.ReconnectInterval))
	}
	switch s.General.ReconnectBackoff {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("general.reconnect_backoff %q is not one of fixed|linear|exponential", s.General.ReconnectBackoff))
	}
	if s.RPC.MaxCallsPerSecond < 0 {
		errs = append(errs, errors.New("rpc.max_calls_per_second cannot be negative"))
	}
	if !strings.HasPrefix(s.RPC.Path, "/") {
		errs = append(errs, fmt.Errorf("rpc.path %q must start with /", s.RPC.Path))
	}
	if s.Defaults.Timeout <= 0 || s.Defaults.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("defaults.timeout and defaults.connect_timeout must be > 0"))
	}
	if err := s.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	return errors.Join(errs...)
}

// CallTimeout is the bound on one daemon call, reusing the global timeout option.
func (s *Settings) CallTimeout() time.Duration {
	return time.Duration(s.Defaults.Timeout) * time.Second
}

// ConnectTimeout bounds the TCP dial of a daemon call.
func (s *Settings) ConnectTimeout() time.Duration {
	return time.Duration(s.Defaults.ConnectTimeout) * time.Second
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from the default location.
func LoadSettings() (*Settings, error) {
	return Load(GetSettingsPath())
}

// Load reads settings from path (optional), ARIASYNC_* environment variables and a
// .env file in the working directory, layered over DefaultSettings.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load() // optional file

	v := viper.New()
	v.SetEnvPrefix("ARIASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultSettings())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("general.default_download_dir", d.General.DefaultDownloadDir)
	v.SetDefault("general.poll_interval", d.General.PollInterval)
	v.SetDefault("general.reconnect_interval", d.General.ReconnectInterval)
	v.SetDefault("general.reconnect_max_interval", d.General.ReconnectMaxInterval)
	v.SetDefault("general.reconnect_backoff", string(d.General.ReconnectBackoff))
	v.SetDefault("general.log_level", d.General.LogLevel)
	v.SetDefault("general.log_retention_count", d.General.LogRetentionCount)
	v.SetDefault("rpc.path", d.RPC.Path)
	v.SetDefault("rpc.max_calls_per_second", d.RPC.MaxCallsPerSecond)
	v.SetDefault("defaults.split", d.Defaults.Split)
	v.SetDefault("defaults.max_connection_per_server", d.Defaults.MaxConnectionPerServer)
	v.SetDefault("defaults.max_download_limit", d.Defaults.MaxDownloadLimit)
	v.SetDefault("defaults.max_upload_limit", d.Defaults.MaxUploadLimit)
	v.SetDefault("defaults.user_agent", d.Defaults.UserAgent)
	v.SetDefault("defaults.referer", d.Defaults.Referer)
	v.SetDefault("defaults.timeout", d.Defaults.Timeout)
	v.SetDefault("defaults.connect_timeout", d.Defaults.ConnectTimeout)
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(path string, s *Settings) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
