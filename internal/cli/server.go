package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concept-master-quiz/internal/app"
	"concept-master-quiz/internal/config"
	"concept-master-quiz/internal/domain"
	"concept-master-quiz/internal/grading"
	"concept-master-quiz/internal/infra/memory"
	pgstore "concept-master-quiz/internal/infra/postgres"
	"concept-master-quiz/internal/infra/rabbit"
	redisstore "concept-master-quiz/internal/infra/redis"
	"concept-master-quiz/internal/infra/sqlite"
	"concept-master-quiz/internal/llm"
	transport "concept-master-quiz/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, redisClient)
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader
	switch {
	case pool != nil:
		loader = pgstore.NewQuizLoader(pool)
	case cfg.Quiz.SeedFile != "":
		quizzes, err := loadSeedQuizzes(cfg.Quiz.SeedFile)
		if err != nil {
			return err
		}
		loader = memory.NewStaticQuizLoader(quizzes)
	default:
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var attempts grading.AttemptStore
	switch {
	case pool != nil:
		attempts = pgstore.NewAttemptStore(pool)
	case cfg.SQLite.Path != "":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		closers = append(closers, store)
		attempts = store
	default:
		logger.Warn("no attempt database configured, attempts are kept in memory")
		attempts = memory.NewAttemptStore()
	}

	var grader grading.ShortAnswerGrader = grading.ExactGrader{}
	if cfg.LLM.URL != "" {
		client := llm.New(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model)
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("llm not reachable: %w", err)
		}
		grader = client
		logger.Info("short answers graded by llm", "model", cfg.LLM.Model)
	}

	gatewayOpts := []grading.Option{grading.WithLogger(logger)}
	if cfg.LLM.Concurrency > 0 {
		gatewayOpts = append(gatewayOpts, grading.WithConcurrency(cfg.LLM.Concurrency))
	}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbit.NewPublisher(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		closers = append(closers, publisher)
		gatewayOpts = append(gatewayOpts, grading.WithPublisher(publisher))
	}
	gateway := grading.NewGateway(attempts, quizRepo, grader, gatewayOpts...)

	var sessions app.SessionRepository
	if redisClient != nil {
		store := redisstore.NewSessionStore(redisClient, redisTTL)
		go store.KeepAlive(ctx, redisTTL/2)
		sessions = store
	} else {
		sessions = memory.NewSessionStore()
	}
	service := app.NewAttemptService(ctx, sessions, quizRepo, gateway, app.WithLogger(logger))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service),
		ReadTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting attempt service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadSeedQuizzes reads a JSON array of quizzes.
func loadSeedQuizzes(path string) (map[string]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var list []domain.Quiz
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	quizzes := make(map[string]domain.Quiz, len(list))
	for _, quiz := range list {
		quizzes[quiz.ID] = quiz
	}
	return quizzes, nil
}

// sampleQuizzes is served when neither Postgres nor a seed file is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"intro-mcq": {
			ID:              "intro-mcq",
			Title:           "Warm-up",
			DurationMinutes: 5,
			Type:            domain.QuizTypeMCQ,
			Questions: []domain.Question{
				{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: 1, Points: 1},
				{ID: "q2", Text: "Which planet is closest to the sun?", Options: []string{"Venus", "Mercury", "Mars"}, CorrectOption: 1, Points: 1},
			},
		},
		"intro-short": {
			ID:              "intro-short",
			Title:           "Definitions",
			DurationMinutes: 10,
			Type:            domain.QuizTypeShortAnswer,
			Questions: []domain.Question{
				{ID: "s1", Text: "What gas do plants absorb during photosynthesis?", ModelAnswer: "carbon dioxide", Points: 1},
				{ID: "s2", Text: "Name the powerhouse of the cell.", ModelAnswer: "mitochondria", Points: 1},
			},
		},
	}
}
