package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "REELSBOT"
)

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reelsbot",
		Short: "Telegram inline bot that resolves Instagram reel and post links",
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (defaults to info; debug if --trace).")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")
	cmd.PersistentFlags().Bool("trace", false, "Print extra debug info to stderr.")

	cmd.PersistentFlags().String("accounts-dsn", "", "';'-separated account DSNs (proxy URLs with credentials in userinfo).")
	cmd.PersistentFlags().String("sessions-dir", "", "Directory for session files.")

	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))
	_ = viper.BindPFlag("trace", cmd.PersistentFlags().Lookup("trace"))
	_ = viper.BindPFlag("accounts_dsn", cmd.PersistentFlags().Lookup("accounts-dsn"))
	_ = viper.BindPFlag("sessions.dir", cmd.PersistentFlags().Lookup("sessions-dir"))

	cmd.AddCommand(newBotCmd())
	cmd.AddCommand(newAccountsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig() {
	initViperDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func initViperDefaults() {
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)

	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.max_concurrency", 4)
	viper.SetDefault("telegram.cache_time", 0)

	viper.SetDefault("sessions.dir", "sessions")
	viper.SetDefault("resolver.gate", 1)
	viper.SetDefault("resolver.fetch_timeout", 30*time.Second)

	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.dir", "cache")
	viper.SetDefault("cache.ttl", 24*time.Hour)
}
