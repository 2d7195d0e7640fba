package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// toolNameIndex guards one tool name per user.
const toolNameIndex = "tools_user_tool_name_key"

// Store provides database operations for per-user tool configurations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListByUser returns every enabled tool row for the user, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT index_id, config FROM tools
		 WHERE user_id = $1
		 ORDER BY created_at, index_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var config []byte
		if err := rows.Scan(&r.IndexID, &config); err != nil {
			return nil, fmt.Errorf("scanning tool row: %w", err)
		}
		r.Config = json.RawMessage(config)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert enables the index as a tool, replacing any previous configuration.
func (s *Store) Upsert(ctx context.Context, userID, indexID string, config json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tools (user_id, index_id, config)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, index_id)
		 DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		userID, indexID, []byte(config))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == toolNameIndex {
			return ErrDuplicateName
		}
		return fmt.Errorf("upserting tool: %w", err)
	}
	return nil
}

// Delete disables the index as a tool. Deleting an absent row is not an error.
func (s *Store) Delete(ctx context.Context, userID, indexID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tools WHERE user_id = $1 AND index_id = $2`, userID, indexID)
	if err != nil {
		return fmt.Errorf("deleting tool: %w", err)
	}
	return nil
}

// NameTaken reports whether another index of the user already uses name.
func (s *Store) NameTaken(ctx context.Context, userID, name, exceptIndexID string) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM tools
			WHERE user_id = $1 AND index_id <> $3 AND config->>'tool_name' = $2
		)`, userID, name, exceptIndexID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking tool name: %w", err)
	}
	return taken, nil
}
