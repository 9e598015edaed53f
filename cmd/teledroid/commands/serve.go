package commands

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raedthawaba/teledroid/pkg/teledroid/auth"
	"github.com/raedthawaba/teledroid/pkg/teledroid/bot"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels/discord"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels/telegram"
	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/scheduler"
	"github.com/raedthawaba/teledroid/pkg/teledroid/server"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// newServeCmd creates the `teledroid serve` command that starts the
// daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with chat channels and the device API",
		Long: `Start TeleDroid as a daemon: connects the enabled chat channels
(Telegram, Discord), serves the device/operator HTTP API, and runs the
task scheduler.

Examples:
  teledroid serve
  teledroid serve --channel telegram
  teledroid serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)

	// Audit BEFORE resolving — checks the raw config values for
	// hardcoded keys.
	config.AuditSecrets(cfg, logger)
	config.ResolveSecretsFromKeyring(cfg, logger)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens := auth.NewTokenIssuer(st, logger)
	authorizer := auth.NewAuthorizer(cfg.Access, logger)
	cmds := command.NewManager(st, logger)
	interp := interpret.New(buildBackend(cfg, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chans := channels.NewManager(logger)
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("telegram", channelFilter, cfg.Channels.Telegram.Enabled) && cfg.Channels.Telegram.Token != "" {
		tg := telegram.New(cfg.Channels.Telegram, logger)
		if err := chans.Register(tg); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		} else {
			logger.Info("Telegram channel registered")
		}
	}

	if shouldEnable("discord", channelFilter, cfg.Channels.Discord.Enabled) && cfg.Channels.Discord.Token != "" {
		dc := discord.New(cfg.Channels.Discord, logger)
		if err := chans.Register(dc); err != nil {
			logger.Error("failed to register Discord", "error", err)
		} else {
			logger.Info("Discord channel registered")
		}
	}

	b := bot.New(chans, st, cmds, interp, tokens, authorizer, logger)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, st, cmds, tokens, authorizer, interp, chans, logger)
		srv.SetOnSettled(b.OnCommandSettled)
		b.SetNudger(srv.NudgeDevice)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(st, cfg.Scheduler.TickInterval, logger)
		sched.SetNotifier(b.OnTaskFired)
		sched.SetPruner(tokens)
	}

	if err := chans.Start(ctx); err != nil {
		logger.Error("no chat channel connected", "error", err)
	}
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("bot stopped", "error", err)
		}
	}()

	if srv != nil {
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("TeleDroid running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"language", cfg.Language,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	cancel()

	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		if srv != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Stop(shutdownCtx)
			cancelShutdown()
		}
		chans.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// shouldEnable decides whether a channel starts, honoring the
// --channel filter when given.
func shouldEnable(name string, filter []string, configEnabled bool) bool {
	if len(filter) > 0 {
		return slices.Contains(filter, name)
	}
	return configEnabled
}
