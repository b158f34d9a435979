// Command seed populates a fresh gateway database with the built-in safety
// rules, moderation and escalation settings, and a starter knowledge base —
// the same content internal/rules.DefaultSnapshot serves in-memory when
// persistence is unreachable, written durably so an operator has a sane
// starting point to edit from the admin API instead of from defaults.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/romanbabin/convogate/internal/config"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/rules"
	"github.com/romanbabin/convogate/internal/storage"
	"github.com/romanbabin/convogate/pkg/metrics"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate a fresh gateway database with built-in rules and a starter knowledge base",
	RunE:  runSeed,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config YAML")
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	repo, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer repo.Close()

	if err := seedRules(ctx, repo, logger); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	if err := seedModerationSettings(ctx, repo, logger); err != nil {
		return fmt.Errorf("seed moderation settings: %w", err)
	}
	if err := seedEscalationSettings(ctx, repo, logger); err != nil {
		return fmt.Errorf("seed escalation settings: %w", err)
	}
	if err := seedKnowledgeBase(ctx, repo, logger); err != nil {
		return fmt.Errorf("seed knowledge base: %w", err)
	}

	logger.Info("seed complete")
	return nil
}

func buildStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	m := metrics.NewStorageMetrics(prometheus.NewRegistry())

	var pool *pgxpool.Pool
	if cfg.Profile == config.ProfileStandard {
		dsn := cfg.Database.URL
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host,
				cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
		}
		var err error
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
	}
	return storage.New(ctx, cfg, pool, logger, m)
}

func seedRules(ctx context.Context, repo storage.Repository, logger *slog.Logger) error {
	existing, err := repo.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load existing rules: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("rules already present, skipping", "count", len(existing))
		return nil
	}

	snapshot := rules.DefaultSnapshot()
	for _, rule := range snapshot.Rules {
		if err := repo.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
		}
	}
	logger.Info("seeded default rules", "count", len(snapshot.Rules))
	return nil
}

func seedModerationSettings(ctx context.Context, repo storage.Repository, logger *slog.Logger) error {
	existing, err := repo.LoadModerationSettings(ctx)
	if err != nil {
		return fmt.Errorf("load existing moderation settings: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("moderation settings already present, skipping", "count", len(existing))
		return nil
	}

	snapshot := rules.DefaultSnapshot()
	count := 0
	for _, setting := range snapshot.Moderation {
		if err := repo.UpsertModerationSetting(ctx, setting); err != nil {
			return fmt.Errorf("upsert moderation setting %s: %w", setting.Category, err)
		}
		count++
	}
	logger.Info("seeded default moderation settings", "count", count)
	return nil
}

func seedEscalationSettings(ctx context.Context, repo storage.Repository, logger *slog.Logger) error {
	existing, err := repo.LoadEscalationSettings(ctx)
	if err != nil {
		return fmt.Errorf("load existing escalation settings: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("escalation settings already present, skipping", "count", len(existing))
		return nil
	}

	snapshot := rules.DefaultSnapshot()
	for _, setting := range snapshot.Escalation {
		if err := repo.UpsertEscalationSetting(ctx, setting); err != nil {
			return fmt.Errorf("upsert escalation setting %s: %w", setting.Category, err)
		}
	}
	logger.Info("seeded default escalation settings", "count", len(snapshot.Escalation))
	return nil
}

func seedKnowledgeBase(ctx context.Context, repo storage.Repository, logger *slog.Logger) error {
	existing, err := repo.LoadKnowledgeDocs(ctx)
	if err != nil {
		return fmt.Errorf("load existing knowledge docs: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("knowledge base already present, skipping", "count", len(existing))
		return nil
	}

	now := time.Now()
	docs := []domain.KnowledgeDoc{
		{
			ID:        uuid.NewString(),
			Title:     "Crisis support resources",
			Category:  "support",
			Content:   "If you or someone you know is in crisis, reach out to a local emergency service immediately. In the US, call or text 988 to reach the Suicide & Crisis Lifeline. Many countries have a comparable service; ask for the local equivalent if you are outside the US.",
			Keywords:  []string{"crisis", "suicide", "self-harm", "emergency", "helpline"},
			UpdatedAt: now,
		},
		{
			ID:        uuid.NewString(),
			Title:     "What this assistant can and cannot do",
			Category:  "about",
			Content:   "This assistant can answer general questions and hold a conversation, but it is not a substitute for professional medical, legal, or financial advice, and it will not attempt to resolve an active safety emergency on its own — it will direct you to appropriate human help instead.",
			Keywords:  []string{"capabilities", "limitations", "disclaimer"},
			UpdatedAt: now,
		},
	}

	if err := repo.BulkImportKnowledgeDocs(ctx, docs); err != nil {
		return fmt.Errorf("bulk import knowledge docs: %w", err)
	}
	logger.Info("seeded starter knowledge base", "count", len(docs))
	return nil
}
