// Command discordauth is the operator tool for the Discord identity
// binding library. Its reconcile subcommand re-checks every linked
// account's guild membership and reports accounts that no longer qualify.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// config is read from the environment. Secrets stay out of argv.
type config struct {
	ClientID     string   `env:"DISCORD_CLIENT_ID"`
	ClientSecret string   `env:"DISCORD_CLIENT_SECRET"`
	BotToken     string   `env:"DISCORD_BOT_TOKEN"`
	GuildID      string   `env:"DISCORD_GUILD_ID"`
	AllowedRoles []string `env:"DISCORD_ALLOWED_ROLES" envSeparator:","`
	DatabasePath string   `env:"DISCORDAUTH_DB" envDefault:"discordauth.db"`
	LogLevel     string   `env:"DISCORDAUTH_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "discordauth",
		Short:         "Operate Discord identity bindings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newReconcileCmd())
	return cmd
}

func loadConfig() (*config, error) {
	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
