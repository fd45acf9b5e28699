package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for signalgate.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Signal   SignalConfig   `json:"signal" yaml:"signal"`
	Receipt  ReceiptConfig  `json:"receipt" yaml:"receipt"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// SignalConfig locates signal-cli and the account it acts for.
type SignalConfig struct {
	Executable            string `json:"executable" yaml:"executable"`
	Account               string `json:"account" yaml:"account"`
	ConfigDir             string `json:"configDir,omitempty" yaml:"configDir,omitempty"`
	TimeoutSeconds        int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	ReceiveTimeoutSeconds int    `json:"receiveTimeoutSeconds" yaml:"receiveTimeoutSeconds"`
}

func (s SignalConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s SignalConfig) ReceiveTimeout() time.Duration {
	return time.Duration(s.ReceiveTimeoutSeconds) * time.Second
}

// ReceiptConfig bounds the wait for a delivery receipt after a verified send.
type ReceiptConfig struct {
	MaxAttempts     int `json:"maxAttempts" yaml:"maxAttempts"`
	PollIntervalMs  int `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	DeadlineSeconds int `json:"deadlineSeconds" yaml:"deadlineSeconds"` // 0 = attempts only
}

func (r ReceiptConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

func (r ReceiptConfig) Deadline() time.Duration {
	return time.Duration(r.DeadlineSeconds) * time.Second
}

type StoreConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type RelayConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds" yaml:"intervalSeconds"`
}

func (r RelayConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	ChatID    int64          `json:"chatId" yaml:"chatId"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
// yaml.v3 already decodes numeric scalars into strings.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MarshalJSON writes an empty list as [] rather than null.
func (f FlexStringList) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(f))
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfigDir returns the default config directory (~/.signalgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".signalgate"
	}
	return filepath.Join(home, ".signalgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a JSON (comments allowed) or YAML (by extension) config file on
// top of Defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		// Comments and trailing commas are allowed in JSON config files.
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Signal.ConfigDir = ExpandPath(cfg.Signal.ConfigDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or JSON depending on the file extension. The file
// holds the Telegram token, so it is written owner-only.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

var accountPattern = regexp.MustCompile(`^\+[0-9]{4,15}$`)

// ValidAccount reports whether s looks like an E.164 number.
func ValidAccount(s string) bool {
	return accountPattern.MatchString(s)
}

// Validate checks that the config has valid values. An empty signal.account
// passes; commands that talk to signal-cli require it separately.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Signal.Account != "" && !ValidAccount(cfg.Signal.Account) {
		errs = append(errs, fmt.Sprintf("signal.account %q must be an E.164 number like +15551234567", cfg.Signal.Account))
	}
	if cfg.Signal.Executable == "" {
		errs = append(errs, "signal.executable must not be empty")
	}
	if cfg.Signal.TimeoutSeconds < 1 {
		errs = append(errs, "signal.timeoutSeconds must be >= 1")
	}
	if cfg.Signal.ReceiveTimeoutSeconds < 0 {
		errs = append(errs, "signal.receiveTimeoutSeconds must be >= 0")
	}
	if cfg.Signal.ReceiveTimeoutSeconds >= cfg.Signal.TimeoutSeconds && cfg.Signal.TimeoutSeconds > 0 {
		errs = append(errs, "signal.receiveTimeoutSeconds must be less than signal.timeoutSeconds")
	}

	if cfg.Receipt.MaxAttempts < 1 || cfg.Receipt.MaxAttempts > 1000 {
		errs = append(errs, "receipt.maxAttempts must be between 1 and 1000")
	}
	if cfg.Receipt.PollIntervalMs < 0 {
		errs = append(errs, "receipt.pollIntervalMs must be >= 0")
	}
	if cfg.Receipt.DeadlineSeconds < 0 {
		errs = append(errs, "receipt.deadlineSeconds must be >= 0")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Relay.IntervalSeconds < 1 {
		errs = append(errs, "relay.intervalSeconds must be >= 1")
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			errs = append(errs, "telegram.token is required when telegram is enabled")
		}
		if cfg.Telegram.ChatID == 0 {
			errs = append(errs, "telegram.chatId is required when telegram is enabled")
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
