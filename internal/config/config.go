package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultBaseURL is the dyslexiview service the front-end always talked to.
	DefaultBaseURL = "http://localhost:5000"

	envPrefix = "DYSLEXIVIEW"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`

	// Profile is the resolved profile name, for display only
	Profile string `mapstructure:"-" yaml:"-"`
}

// ServerConfig points at the remote extraction/recordings service.
type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "pulse", "pipewire", "auto"
	Input      string `mapstructure:"input" yaml:"input"`     // device id/description match, "default" for the default source
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

type CatalogConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"` // "poll" or "push"
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type PlaybackConfig struct {
	Player string `mapstructure:"player" yaml:"player"` // "pulse", "exec", "auto"
}

// ControlConfig configures the local control server started by `serve`.
type ControlConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

var defaultConfig = Config{
	Server: ServerConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	},
	Audio: AudioConfig{
		Backend:    "auto",
		Input:      "default",
		SampleRate: 16000,
		Channels:   1,
	},
	Catalog: CatalogConfig{
		Mode:         "poll",
		PollInterval: 5 * time.Second,
	},
	Playback: PlaybackConfig{
		Player: "auto",
	},
	Control: ControlConfig{
		Port: "8080",
	},
	Profile: "default",
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// DefaultPath returns $HOME/.config/dyslexiview.yaml
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/dyslexiview.yaml")
}

// Load resolves configFile's active profile. A missing file at the default
// path falls back to built-in defaults; an explicitly named file must exist.
func Load(configFile string, explicit bool, profile string) (*Config, error) {
	if !explicit {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			cfg := Default()
			if err := applyEnv(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		if configName == "default" && len(rootConfig.Configs) == 0 {
			selected = &Config{}
		} else {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
	}

	// Every profile inherits from the built-in defaults, then from the
	// file's "default" profile when one exists.
	base := Default()
	if configName != "default" {
		if fileDefault, ok := rootConfig.Configs["default"]; ok {
			base = mergeConfigs(base, fileDefault)
		}
	}
	result := mergeConfigs(base, selected)
	result.Profile = configName

	if err := applyEnv(result); err != nil {
		return nil, err
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ListProfiles returns the profile names declared in configFile.
func ListProfiles(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	return names, nil
}

// mergeConfigs overlays the non-zero fields of profile onto base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}
	if profile == nil {
		return result
	}

	if profile.Server.BaseURL != "" {
		result.Server.BaseURL = profile.Server.BaseURL
	}
	if profile.Server.Timeout != 0 {
		result.Server.Timeout = profile.Server.Timeout
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
	}
	if profile.Audio.Input != "" {
		result.Audio.Input = profile.Audio.Input
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
	}

	if profile.Catalog.Mode != "" {
		result.Catalog.Mode = profile.Catalog.Mode
	}
	if profile.Catalog.PollInterval != 0 {
		result.Catalog.PollInterval = profile.Catalog.PollInterval
	}

	if profile.Playback.Player != "" {
		result.Playback.Player = profile.Playback.Player
	}

	if profile.Control.Port != "" {
		result.Control.Port = profile.Control.Port
	}

	return result
}

// applyEnv overlays DYSLEXIVIEW_* environment variables onto cfg. Keys map
// to variables by upper-casing and replacing dots, so server.timeout reads
// DYSLEXIVIEW_SERVER_TIMEOUT. DYSLEXIVIEW_BASE_URL is accepted as a short
// form of DYSLEXIVIEW_SERVER_BASE_URL.
func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.base_url", envPrefix+"_BASE_URL", envPrefix+"_SERVER_BASE_URL"); err != nil {
		return err
	}

	if s := strings.TrimSpace(v.GetString("server.base_url")); s != "" {
		cfg.Server.BaseURL = s
	}
	if v.GetString("server.timeout") != "" {
		d, err := time.ParseDuration(v.GetString("server.timeout"))
		if err != nil {
			return fmt.Errorf("%s_SERVER_TIMEOUT: %w", envPrefix, err)
		}
		cfg.Server.Timeout = d
	}
	if s := v.GetString("audio.backend"); s != "" {
		cfg.Audio.Backend = s
	}
	if s := v.GetString("audio.input"); s != "" {
		cfg.Audio.Input = s
	}
	if s := v.GetString("catalog.mode"); s != "" {
		cfg.Catalog.Mode = s
	}
	if s := v.GetString("playback.player"); s != "" {
		cfg.Playback.Player = s
	}
	return nil
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got: %q", c.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url scheme must be http or https, got: %s", u.Scheme)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must be >= 0, got: %s", c.Server.Timeout)
	}

	switch strings.ToLower(c.Audio.Backend) {
	case "pulse", "pipewire", "auto":
	default:
		return fmt.Errorf("audio.backend must be 'pulse', 'pipewire' or 'auto', got: %s", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}

	switch c.Catalog.Mode {
	case "poll", "push":
	default:
		return fmt.Errorf("catalog.mode must be 'poll' or 'push', got: %s", c.Catalog.Mode)
	}
	if c.Catalog.PollInterval < time.Second {
		return fmt.Errorf("catalog.poll_interval must be >= 1s, got: %s", c.Catalog.PollInterval)
	}

	switch strings.ToLower(c.Playback.Player) {
	case "pulse", "exec", "auto":
	default:
		return fmt.Errorf("playback.player must be 'pulse', 'exec' or 'auto', got: %s", c.Playback.Player)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("configs.%s: profile body is empty", name)
		}
	}

	if rootConfig.ActiveConfig != "" && len(rootConfig.Configs) > 0 {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// ResolvePath expands a leading ~/ in a user-supplied path.
func ResolvePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
