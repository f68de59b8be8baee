package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/focus-quest/config"
	"github.com/alem-hub/focus-quest/internal/application/query"
	"github.com/alem-hub/focus-quest/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or list PostgreSQL migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate needs STORAGE_DRIVER=postgres, got %s (sqlite migrates on open)", cfg.Storage.Driver)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			store, err := openStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.close()

			return runMigrate(ctx, cmd.OutOrStdout(), postgres.NewMigrator(store.pg), args[0])
		},
	}
}

func runMigrate(ctx context.Context, out io.Writer, migrator *postgres.Migrator, action string) error {
	switch action {
	case "up":
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", applied)

	case "down":
		version, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		fmt.Fprintf(out, "rolled back migration %03d\n", version)

	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-8s %-24s %s\n", "VERSION", "NAME", "APPLIED")
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, m := range migrations {
			applied := "pending"
			if m.IsApplied {
				applied = m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%03d      %-24s %s\n", m.Version, m.Name, applied)
		}

	default:
		return errors.New("unknown migrate action: " + action)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TOP
// ══════════════════════════════════════════════════════════════════════════════

func newTopCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "top",
		Aliases: []string{"leaderboard"},
		Short:   "Print the leaderboard by total study time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStorage(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.close()

			res, err := query.NewGetLeaderboardHandler(store.users, nil, log).
				Handle(cmd.Context(), query.GetLeaderboardQuery{Limit: limit})
			if err != nil {
				return err
			}
			printLeaderboard(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entries")
	return cmd
}

func printLeaderboard(out io.Writer, res *query.GetLeaderboardResult) {
	if len(res.Entries) == 0 {
		fmt.Fprintln(out, "No study time recorded yet.")
		return
	}

	fmt.Fprintf(out, "%-5s %-24s %-6s %s\n", "RANK", "NICKNAME", "LEVEL", "STUDY TIME")
	fmt.Fprintln(out, strings.Repeat("-", 50))
	for _, e := range res.Entries {
		name := e.Nickname
		if len(name) > 22 {
			name = name[:19] + "..."
		}
		fmt.Fprintf(out, "%-5s %-24s %-6d %s\n", query.FormatRankEmoji(e.Rank), name, e.Level, query.FormatStudyTime(e.TotalStudyTime))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIERS
// ══════════════════════════════════════════════════════════════════════════════

func newTiersCommand() *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Print the tier table and companion catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := config.LoadProgression(rulesFile)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), query.NewCatalogHandler(engine))
			return nil
		},
	}
	cmd.Flags().StringVarP(&rulesFile, "file", "f", "", "progression rules YAML (default: built-in rules)")
	return cmd
}

func printCatalog(out io.Writer, catalog *query.CatalogHandler) {
	fmt.Fprintf(out, "%-14s %-7s %-7s %s\n", "TIER", "FROM", "TO", "TOTAL XP")
	fmt.Fprintln(out, strings.Repeat("-", 44))
	for _, t := range catalog.Tiers() {
		to := "-"
		if t.MaxLevel > 0 {
			to = fmt.Sprintf("%d", t.MaxLevel)
		}
		fmt.Fprintf(out, "%-14s %-7d %-7s %.0f\n", t.Name, t.MinLevel, to, t.CumulativeExperience)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-12s %-12s %-18s %s\n", "COMPANION", "UNLOCK", "SKILL", "MULTIPLIER")
	fmt.Fprintln(out, strings.Repeat("-", 56))
	for _, c := range catalog.Companions() {
		fmt.Fprintf(out, "%-12s L%-11d %-18s x%.2f\n", c.Name, c.UnlockLevel, c.SkillKind, c.Multiplier)
	}
}
