package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DeadLemon/reelsbot/internal/config"
	"github.com/DeadLemon/reelsbot/internal/logutil"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account management",
	}
	cmd.AddCommand(newAccountsCheckCmd())
	return cmd
}

// accounts check runs the full session validation protocol once per account
// and reports the outcome, without starting the bot.
func newAccountsCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate every configured account once and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

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

			failed := 0
			for _, s := range sessions {
				if err := s.EnsureValid(ctx); err != nil {
					failed++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: FAIL (%v)\n", s.Username(), err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", s.Username())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed validation", failed, len(sessions))
			}
			return nil
		},
	}

	return cmd
}
