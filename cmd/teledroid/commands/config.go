package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
)

// newConfigCmd creates the `teledroid config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage TeleDroid configuration",
		Long: `Manage the TeleDroid configuration file and secrets.

Examples:
  teledroid config init
  teledroid config show
  teledroid config set-key telegram-token`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			const path = "config.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}
			if err := config.SaveToFile(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			fmt.Println("Set your tokens with 'teledroid config set-key' or via environment variables.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("name:      %s\n", cfg.Name)
			fmt.Printf("language:  %s\n", cfg.Language)
			fmt.Printf("database:  %s\n", cfg.Database.Path)
			fmt.Printf("server:    enabled=%v %s:%d\n", cfg.Server.Enabled, cfg.Server.Host, cfg.Server.Port)
			fmt.Printf("telegram:  enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskSecret(cfg.Channels.Telegram.Token))
			fmt.Printf("discord:   enabled=%v token=%s\n", cfg.Channels.Discord.Enabled, maskSecret(cfg.Channels.Discord.Token))
			fmt.Printf("llm:       enabled=%v model=%s key=%s\n", cfg.LLM.Enabled, cfg.LLM.Model, maskSecret(cfg.LLM.APIKey))
			fmt.Printf("scheduler: enabled=%v tick=%s\n", cfg.Scheduler.Enabled, cfg.Scheduler.TickInterval)
			return nil
		},
	}
}

// keyringNames maps the CLI secret names to keyring keys.
var keyringNames = map[string]string{
	"api-key":        config.KeyringAPIKey,
	"telegram-token": config.KeyringTelegramToken,
	"discord-token":  config.KeyringDiscordToken,
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <api-key|telegram-token|discord-token>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			keyName, ok := keyringNames[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q, use one of: api-key, telegram-token, discord-token", args[0])
			}
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available, use environment variables instead")
			}

			fmt.Printf("Value for %s (input hidden): ", args[0])
			value, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			if len(value) == 0 {
				return fmt.Errorf("empty value, nothing stored")
			}

			if err := config.StoreKeyring(keyName, string(value)); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Printf("Secret %s stored in the OS keyring.\n", args[0])
			return nil
		},
	}
}

// maskSecret hides all but a short prefix of a secret for display.
func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:4] + "****"
}
