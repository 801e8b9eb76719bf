package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"concept-master-quiz/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

const selectAttempt = `SELECT id, quiz_id, user_id, answers, feedback, score, total, percentage, submitted_at FROM attempts`

// AttemptStore persists graded attempts in the attempts table.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) FindByUser(ctx context.Context, quizID, userID string) (*domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, selectAttempt+` WHERE quiz_id=$1 AND user_id=$2`, quizID, userID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attempts (id, quiz_id, user_id, answers, feedback, score, total, percentage, submitted_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9)`,
		attempt.ID, attempt.QuizID, attempt.UserID, string(answers), string(feedback),
		attempt.Result.Score, attempt.Result.Total, attempt.Result.Percentage, attempt.Result.SubmittedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyAttempted
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, attemptID string) (domain.Attempt, error) {
	attempt, err := scanAttempt(s.pool.QueryRow(ctx, selectAttempt+` WHERE id=$1`, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return attempt, nil
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a                 domain.Attempt
		answers, feedback []byte
	)
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &answers, &feedback,
		&a.Result.Score, &a.Result.Total, &a.Result.Percentage, &a.Result.SubmittedAt)
	if err != nil {
		return domain.Attempt{}, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(feedback, &a.Feedback); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal feedback: %w", err)
	}
	a.Result.AttemptID = a.ID
	return a, nil
}
