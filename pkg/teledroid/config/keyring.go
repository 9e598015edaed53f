// Package config – keyring.go provides credential storage using the
// operating system's native keyring (Linux: Secret Service, macOS:
// Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (TELEDROID_API_KEY, OPENAI_API_KEY, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "teledroid"

	// KeyringAPIKey is the key name for the LLM API key.
	KeyringAPIKey = "api_key"

	// KeyringTelegramToken is the key name for the Telegram bot token.
	KeyringTelegramToken = "telegram_token"

	// KeyringDiscordToken is the key name for the Discord bot token.
	KeyringDiscordToken = "discord_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__teledroid_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecretsFromKeyring fills in secrets still missing after env
// resolution from the OS keyring. Values already present (from env or
// config) are kept.
func ResolveSecretsFromKeyring(cfg *Config, logger *slog.Logger) {
	if cfg.LLM.APIKey == "" || IsEnvReference(cfg.LLM.APIKey) {
		if val := GetKeyring(KeyringAPIKey); val != "" {
			cfg.LLM.APIKey = val
			logger.Debug("LLM API key loaded from OS keyring")
		}
	}
	if cfg.Channels.Telegram.Token == "" || IsEnvReference(cfg.Channels.Telegram.Token) {
		if val := GetKeyring(KeyringTelegramToken); val != "" {
			cfg.Channels.Telegram.Token = val
			logger.Debug("Telegram token loaded from OS keyring")
		}
	}
	if cfg.Channels.Discord.Token == "" || IsEnvReference(cfg.Channels.Discord.Token) {
		if val := GetKeyring(KeyringDiscordToken); val != "" {
			cfg.Channels.Discord.Token = val
			logger.Debug("Discord token loaded from OS keyring")
		}
	}
}

// MigrateKeyToKeyring stores a secret in the OS keyring so it can be
// removed from .env and config.yaml.
func MigrateKeyToKeyring(key, value string, logger *slog.Logger) error {
	if err := StoreKeyring(key, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", key,
		"hint", "you can now remove it from .env and config.yaml")
	return nil
}
