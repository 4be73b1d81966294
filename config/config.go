// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig holds the control API listen settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MarginConfig holds the margin watchdog thresholds, in account currency.
type MarginConfig struct {
	AlertThreshold float64 `yaml:"alert_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`
}

// ExpiryConfig describes when the expiry watchdog force-stops trading:
// at CutoffHour:CutoffMinute local time on the last Weekday of the month.
type ExpiryConfig struct {
	Weekday      string `yaml:"weekday"`
	CutoffHour   int    `yaml:"cutoff_hour"`
	CutoffMinute int    `yaml:"cutoff_minute"`
}

// IntervalConfig holds all loop poll intervals.
type IntervalConfig struct {
	PollSeconds        int `yaml:"poll_seconds"`
	WatchdogSeconds    int `yaml:"watchdog_seconds"`
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`
}

// FilesConfig holds paths for all persisted state.
type FilesConfig struct {
	CredentialFile     string `yaml:"credential_file"`
	ModeFile           string `yaml:"mode_file"`
	PaperPositionsFile string `yaml:"paper_positions_file"`
	JournalFile        string `yaml:"journal_file"`
	LogDirectory       string `yaml:"log_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Timezone  string          `yaml:"timezone"`
	Server    *ServerConfig   `yaml:"server"`
	Margin    *MarginConfig   `yaml:"margin"`
	Expiry    *ExpiryConfig   `yaml:"expiry"`
	Intervals *IntervalConfig `yaml:"intervals"`
	Files     *FilesConfig    `yaml:"files"`
	Logs      *LogConfig      `yaml:"logs"`
}

// NewConfig returns a Config pre-filled with safe operational defaults.
// Margin thresholds carry no default: trading risk limits must be explicit.
func NewConfig() *Config {
	return &Config{
		Timezone: "Asia/Kolkata",
		Server:   &ServerConfig{ListenAddr: "127.0.0.1:8000"},
		Margin:   &MarginConfig{},
		Expiry:   &ExpiryConfig{Weekday: "Thursday", CutoffHour: 14, CutoffMinute: 0},
		Intervals: &IntervalConfig{
			PollSeconds:        10,
			WatchdogSeconds:    30,
			HTTPTimeoutSeconds: 10,
		},
		Files: &FilesConfig{
			CredentialFile:     "state/live_auth.json",
			ModeFile:           "state/mode.json",
			PaperPositionsFile: "state/paper_positions.json",
			JournalFile:        "state/journal.db",
			LogDirectory:       "logs",
		},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ExpiryWeekday resolves the configured expiry weekday name.
func (c *Config) ExpiryWeekday() (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(c.Expiry.Weekday)]
	if !ok {
		return 0, fmt.Errorf("invalid expiry weekday %q", c.Expiry.Weekday)
	}
	return wd, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Timezone == "" {
		return fmt.Errorf("config error: 'timezone' must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config error: invalid timezone %q: %w", c.Timezone, err)
	}

	if c.Server == nil || c.Server.ListenAddr == "" {
		return fmt.Errorf("critical config missing: 'server.listen_addr' must be specified")
	}

	if c.Margin == nil {
		return fmt.Errorf("critical config missing: 'margin' configuration block must be provided")
	}
	if c.Margin.ExitThreshold <= 0 {
		return fmt.Errorf("critical config missing: 'margin.exit_threshold' must be specified and be positive")
	}
	if c.Margin.AlertThreshold <= 0 {
		return fmt.Errorf("critical config missing: 'margin.alert_threshold' must be specified and be positive")
	}
	if c.Margin.AlertThreshold <= c.Margin.ExitThreshold {
		return fmt.Errorf("config error: margin.alert_threshold (%.2f) must be greater than margin.exit_threshold (%.2f)",
			c.Margin.AlertThreshold, c.Margin.ExitThreshold)
	}

	if c.Expiry == nil {
		return fmt.Errorf("critical config missing: 'expiry' configuration block must be provided")
	}
	if _, err := c.ExpiryWeekday(); err != nil {
		return err
	}
	if c.Expiry.CutoffHour < 0 || c.Expiry.CutoffHour > 23 {
		return fmt.Errorf("config error: expiry.cutoff_hour must be within 0-23")
	}
	if c.Expiry.CutoffMinute < 0 || c.Expiry.CutoffMinute > 59 {
		return fmt.Errorf("config error: expiry.cutoff_minute must be within 0-59")
	}

	if c.Intervals == nil {
		return fmt.Errorf("critical config missing: 'intervals' configuration block must be provided")
	}
	if c.Intervals.PollSeconds <= 0 {
		return fmt.Errorf("config error: intervals.poll_seconds must be positive")
	}
	if c.Intervals.WatchdogSeconds <= 0 {
		return fmt.Errorf("config error: intervals.watchdog_seconds must be positive")
	}
	if c.Intervals.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("config error: intervals.http_timeout_seconds must be positive")
	}

	if c.Files == nil {
		return fmt.Errorf("critical config missing: 'files' configuration block must be provided")
	}
	if c.Files.CredentialFile == "" {
		return fmt.Errorf("critical config missing: 'files.credential_file' must be specified")
	}
	if c.Files.ModeFile == "" {
		return fmt.Errorf("critical config missing: 'files.mode_file' must be specified")
	}
	if c.Files.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'files.log_directory' must be specified")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' configuration block must be provided")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_size_mb' must be specified and be positive")
	}

	return nil
}

// EnvConfig carries every secret and upstream endpoint supplied via environment.
type EnvConfig struct {
	ControlAPIKey string
	ModePIN       string

	BrokerClientID     string
	BrokerAPISecret    string
	BrokerLoginURL     string
	BrokerPositionsURL string
	BrokerLTPURL       string
	BrokerLimitsURL    string
	BrokerCancelURL    string
	TOTPSeed           string

	TelegramBotToken string
	TelegramChatID   string
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadEnvConfig reads secrets and endpoint URLs from the environment.
func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ControlAPIKey: os.Getenv("CONTROL_API_KEY"),
		ModePIN:       os.Getenv("MODE_CHANGE_PIN"),

		BrokerClientID:     os.Getenv("FLATTRADE_CLIENT_ID"),
		BrokerAPISecret:    os.Getenv("FLATTRADE_API_SECRET"),
		BrokerLoginURL:     getenvDefault("FLATTRADE_LOGIN_URL", "https://authapi.flattrade.in/ftauth"),
		BrokerPositionsURL: getenvDefault("FLATTRADE_POSITIONS_URL", "https://piconnect.flattrade.in/PiConnectTP/PositionBook"),
		BrokerLTPURL:       getenvDefault("FLATTRADE_LTP_URL", "https://api.flattrade.in/market/ltp"),
		BrokerLimitsURL:    getenvDefault("FLATTRADE_LIMITS_URL", "https://piconnect.flattrade.in/PiConnectTP/Limits"),
		BrokerCancelURL:    getenvDefault("FLATTRADE_CANCEL_URL", "https://piconnect.flattrade.in/PiConnectTP/CancelOrder"),
		TOTPSeed:           os.Getenv("FLATTRADE_TOTP_SEED"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
}

// Validate refuses to serve without the shared control secret and mode PIN.
func (e *EnvConfig) Validate() error {
	if e.ControlAPIKey == "" {
		return fmt.Errorf("critical config missing: CONTROL_API_KEY must be set in the environment")
	}
	if e.ModePIN == "" {
		return fmt.Errorf("critical config missing: MODE_CHANGE_PIN must be set in the environment")
	}
	return nil
}
