package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"eventcore/internal/constants"
	apperrors "eventcore/pkg/errors"
)

// PostgresStore archives letters in the dead_letters table created by the
// embedded migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Store(ctx context.Context, letter Letter) error {
	if letter.Payload == nil {
		letter.Payload = []byte{}
	}

	query := `
		INSERT INTO dead_letters (id, source, group_name, subject, msg_key, payload, reason, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		letter.ID, letter.Source, letter.Group, letter.Subject, letter.Key,
		letter.Payload, letter.Reason, letter.Attempts, letter.FailedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Letter, error) {
	query := `
		SELECT id, source, group_name, subject, msg_key, payload, reason, attempts, failed_at
		FROM dead_letters
		WHERE id = $1
	`

	letter, err := scanLetter(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Letter{}, apperrors.ErrNotFound.WithDetail("letter_id", id)
	}
	if err != nil {
		return Letter{}, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return letter, nil
}

// List returns the most recent letters first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Letter, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}

	query := `
		SELECT id, source, group_name, subject, msg_key, payload, reason, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]Letter, 0)
	for rows.Next() {
		letter, err := scanLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letters: %w", err)
	}
	return letters, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLetter(row scanner) (Letter, error) {
	var letter Letter
	err := row.Scan(
		&letter.ID, &letter.Source, &letter.Group, &letter.Subject, &letter.Key,
		&letter.Payload, &letter.Reason, &letter.Attempts, &letter.FailedAt,
	)
	return letter, err
}
