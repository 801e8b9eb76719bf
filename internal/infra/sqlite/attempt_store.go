package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"concept-master-quiz/internal/domain"

	_ "modernc.org/sqlite"
)

const selectAttempt = `SELECT id, quiz_id, user_id, answers, feedback, score, total, percentage, submitted_at FROM attempts`

// AttemptStore keeps graded attempts in a single SQLite file, for
// single-node deployments without Postgres.
type AttemptStore struct {
	db *sql.DB
}

func New(dbPath string) (*AttemptStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &AttemptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *AttemptStore) Close() error {
	return s.db.Close()
}

func (s *AttemptStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '[]',
		feedback TEXT NOT NULL DEFAULT '[]',
		score INTEGER NOT NULL,
		total INTEGER NOT NULL,
		percentage REAL NOT NULL,
		submitted_at TEXT NOT NULL,
		UNIQUE (quiz_id, user_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *AttemptStore) FindByUser(ctx context.Context, quizID, userID string) (*domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx, selectAttempt+` WHERE quiz_id = ? AND user_id = ?`, quizID, userID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.Attempt) error {
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	feedback, err := json.Marshal(attempt.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, quiz_id, user_id, answers, feedback, score, total, percentage, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.QuizID, attempt.UserID, string(answers), string(feedback),
		attempt.Result.Score, attempt.Result.Total, attempt.Result.Percentage,
		attempt.Result.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrAlreadyAttempted
	}
	return err
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	attempt, err := scanAttempt(s.db.QueryRowContext(ctx, selectAttempt+` WHERE id = ?`, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, err
}

func scanAttempt(row *sql.Row) (domain.Attempt, error) {
	var (
		a                 domain.Attempt
		answers, feedback string
		submittedAt       string
	)
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &answers, &feedback,
		&a.Result.Score, &a.Result.Total, &a.Result.Percentage, &submittedAt)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal([]byte(feedback), &a.Feedback); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal feedback: %w", err)
	}
	a.Result.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("parse submitted_at: %w", err)
	}
	a.Result.AttemptID = a.ID
	return a, nil
}
