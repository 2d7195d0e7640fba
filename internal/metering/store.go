package metering

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for invocation metering.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes invocations in a single multi-row INSERT. It is a no-op
// when invs is empty.
func (s *Store) BatchInsert(ctx context.Context, invs []Invocation) error {
	if len(invs) == 0 {
		return nil
	}

	const cols = 9 // columns per row, excluding the generated id
	args := make([]any, 0, len(invs)*cols)
	rows := make([]string, 0, len(invs))

	for i, inv := range invs {
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		rows = append(rows, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			inv.UserID,
			inv.ToolName,
			inv.IndexID,
			inv.Outcome,
			inv.StatusCode,
			inv.LatencyMs,
			inv.ResponseSize,
			inv.Timestamp,
			inv.Error,
		)
	}

	query := `INSERT INTO tool_invocations
		(user_id, tool_name, index_id, outcome, status_code, latency_ms,
		 response_size, timestamp, error)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting invocations: %w", err)
	}
	return nil
}

// GetSummary returns aggregate counts and a per-tool breakdown for the
// invocations matching q.
func (s *Store) GetSummary(ctx context.Context, q UsageQuery) (*UsageSummary, error) {
	where, args := buildWhereClause(q)

	summary := &UsageSummary{Tools: []ToolUsage{}}
	err := s.pool.QueryRow(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome <> 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0)
	FROM tool_invocations`+where, args...).Scan(
		&summary.TotalCalls,
		&summary.OKCount,
		&summary.ErrorCount,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT
		tool_name,
		COUNT(*),
		COALESCE(SUM(CASE WHEN outcome <> 'ok' THEN 1 ELSE 0 END), 0)
	FROM tool_invocations`+where+`
	GROUP BY tool_name
	ORDER BY COUNT(*) DESC, tool_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying per-tool usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tu ToolUsage
		if err := rows.Scan(&tu.ToolName, &tu.Calls, &tu.ErrorCount); err != nil {
			return nil, fmt.Errorf("scanning tool usage: %w", err)
		}
		summary.Tools = append(summary.Tools, tu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool usage: %w", err)
	}
	return summary, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// UsageQuery. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q UsageQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.UserID != "" {
		args = append(args, q.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.ToolName != "" {
		args = append(args, q.ToolName)
		conditions = append(conditions, fmt.Sprintf("tool_name = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
