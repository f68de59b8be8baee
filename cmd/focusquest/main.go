// Package main - точка входа FocusQuest.
//
// Один бинарник, несколько команд:
//   - serve   HTTP API, таймеры сессий и фоновые задачи
//   - migrate схема PostgreSQL
//   - top     лидерборд в терминале
//   - tiers   таблица трофеев и каталог компаньонов
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alem-hub/focus-quest/config"
	"github.com/alem-hub/focus-quest/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "focusquest",
		Short:         "Gamified study timer with levels, tiers and companions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newTopCommand(),
		newTiersCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "focusquest %s (%s)\n", version, commit)
			},
		},
	)
	return root
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// loadConfig загружает конфигурацию и настраивает логирование.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" {
		cfg.App.Version = version
	}
	return cfg, setupLogger(cfg), nil
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		Format:    logger.ParseFormat(cfg.Observability.LogFormat),
		Service:   cfg.App.Name,
		Version:   cfg.App.Version,
		AddSource: cfg.App.Debug,
	})
	slog.SetDefault(log)

	return log
}
