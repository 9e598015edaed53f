// Package config defines all configuration structures for the
// TeleDroid backend.
package config

import "time"

// Config holds the full backend configuration.
type Config struct {
	// Name is the bot name shown in chat responses.
	Name string `yaml:"name"`

	// Timezone used when rendering schedules and timestamps.
	Timezone string `yaml:"timezone"`

	// Language is the preferred reply language ("ar", "en").
	Language string `yaml:"language"`

	// Database configures the central SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// LLM configures the fallback interpreter.
	LLM LLMConfig `yaml:"llm"`

	// Server configures the device/operator HTTP API.
	Server ServerConfig `yaml:"server"`

	// Channels configures the chat channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Access configures who may talk to the bot.
	Access AccessConfig `yaml:"access"`

	// Scheduler configures scheduled task materialization.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`
}

// LLMConfig configures the OpenAI-compatible fallback interpreter.
type LLMConfig struct {
	// Enabled turns the LLM fallback on/off. When off, unmatched
	// messages get the help reply instead of an interpretation.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the API base URL (OpenAI-compatible).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the API. Prefer the OS keyring or
	// an environment reference over a literal value here.
	APIKey string `yaml:"api_key"`

	// Model is the model name (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Timeout bounds a single interpretation request.
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API listened on by devices and
// operator tooling.
type ServerConfig struct {
	// Enabled turns the HTTP API on/off.
	Enabled bool `yaml:"enabled"`

	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// AdminToken authenticates operator endpoints. Devices use their
	// own issued tokens; this is only for management calls.
	AdminToken string `yaml:"admin_token"`

	// UploadDir is where uploaded files are spooled for devices.
	UploadDir string `yaml:"upload_dir"`
}

// ChannelsConfig holds configuration for all chat channels.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`

	// Token is the Bot API token from @BotFather.
	Token string `yaml:"token"`

	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token.
	Token string `yaml:"token"`
}

// AccessConfig configures the chat whitelist.
type AccessConfig struct {
	// AllowedUsers lists chat IDs permitted to use the bot.
	// Empty means everyone is allowed.
	AllowedUsers []string `yaml:"allowed_users"`
}

// SchedulerConfig configures the scheduled-task engine.
type SchedulerConfig struct {
	// Enabled turns the scheduler on/off.
	Enabled bool `yaml:"enabled"`

	// TickInterval is how often due interval/one-shot tasks are
	// checked. Cron tasks fire on their own expressions.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "TeleDroid",
		Timezone: "Asia/Riyadh",
		Language: "ar",
		Database: DatabaseConfig{
			Path: "./data/teledroid.db",
		},
		LLM: LLMConfig{
			Enabled: true,
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Enabled:   true,
			Host:      "0.0.0.0",
			Port:      8000,
			UploadDir: "./data/uploads",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:     true,
				PollTimeout: 30,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
