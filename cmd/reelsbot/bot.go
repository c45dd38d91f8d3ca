package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DeadLemon/reelsbot/internal/config"
	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/logutil"
	"github.com/DeadLemon/reelsbot/internal/mediacache"
	"github.com/DeadLemon/reelsbot/internal/resolver"
	"github.com/DeadLemon/reelsbot/internal/session"
	"github.com/DeadLemon/reelsbot/internal/telegram"
)

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the inline-query bot until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			token := viper.GetString("telegram.bot_token")
			if token == "" {
				return fmt.Errorf("missing telegram.bot_token")
			}

			accounts, err := config.AccountsFromViper()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return fmt.Errorf("no accounts configured")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessions, err := buildSessions(accounts, logger)
			if err != nil {
				return err
			}
			pool := session.NewPool(ctx, sessions, logger)
			defer pool.Close()
			if pool.Cap() == 0 {
				return fmt.Errorf("no account passed validation")
			}

			opts := resolver.Options{
				Gate:         viper.GetInt("resolver.gate"),
				FetchTimeout: viper.GetDuration("resolver.fetch_timeout"),
				Logger:       logger,
			}
			if viper.GetBool("cache.enabled") {
				cache, err := mediacache.Open(viper.GetString("cache.dir"), viper.GetDuration("cache.ttl"))
				if err != nil {
					return err
				}
				defer cache.Close()
				opts.Cache = cache
			}
			res := resolver.New(pool, opts)

			bot, err := telegram.NewBot(telegram.Config{
				Token:          token,
				PollTimeout:    viper.GetDuration("telegram.poll_timeout"),
				MaxConcurrency: viper.GetInt("telegram.max_concurrency"),
				Whitelist:      whitelistFromViper(),
				CacheTime:      viper.GetInt("telegram.cache_time"),
				Logger:         logger,
			}, res)
			if err != nil {
				return err
			}

			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("bot_stopped")
			return nil
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().Duration("telegram-poll-timeout", 0, "Long polling timeout for getUpdates.")
	cmd.Flags().Int("telegram-max-concurrency", 0, "Max concurrent inline query handlers.")
	_ = viper.BindPFlag("telegram.bot_token", cmd.Flags().Lookup("telegram-bot-token"))
	_ = viper.BindPFlag("telegram.poll_timeout", cmd.Flags().Lookup("telegram-poll-timeout"))
	_ = viper.BindPFlag("telegram.max_concurrency", cmd.Flags().Lookup("telegram-max-concurrency"))

	return cmd
}

func buildSessions(accounts []config.Account, logger *slog.Logger) ([]*session.Session, error) {
	sessions := make([]*session.Session, 0, len(accounts))
	for _, a := range accounts {
		client, err := instagram.NewAPIClient(instagram.Options{
			Username: a.Username,
			Password: a.Password,
			ProxyURL: a.ProxyURL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.Username, err)
		}
		sessions = append(sessions, session.New(client, a.SessionFile, logger))
	}
	return sessions, nil
}

func whitelistFromViper() []int64 {
	ids := viper.GetIntSlice("telegram.whitelist")
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}
