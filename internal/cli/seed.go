package cli

import (
	"context"
	"log/slog"
	"time"

	"concept-master-quiz/internal/config"
	pgstore "concept-master-quiz/internal/infra/postgres"
	redisstore "concept-master-quiz/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewSeedCmd upserts quiz definitions from a JSON file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quiz definitions into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Quiz.SeedFile
			}
			return seedQuizzes(cmd.Context(), cfg, file, cfg.Logger())
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of quizzes (defaults to quiz.seed_file)")
	return cmd
}

func seedQuizzes(ctx context.Context, cfg config.Config, file string, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return errNoPostgres
	}
	quizzes, err := loadSeedQuizzes(file)
	if err != nil {
		return err
	}
	if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	loader := pgstore.NewQuizLoader(pool)

	// cached copies would keep serving the old definitions until their TTL
	var cache *redisstore.QuizRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache = redisstore.NewQuizRepository(client, loader, config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute))
	}

	for id, quiz := range quizzes {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, id); err != nil {
				logger.Warn("invalidate cached quiz", "quiz_id", id, "error", err)
			}
		}
		logger.Info("quiz seeded", "quiz_id", id, "questions", len(quiz.Questions))
	}
	return nil
}
