// Package session stores replayable SSE events for stateful streamable MCP
// sessions so a client can resume a stream with Last-Event-ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrUnknownStream is returned when events are appended to or read from a
// stream that was never opened or has been pruned.
var ErrUnknownStream = errors.New("unknown stream")

var _ mcp.EventStore = (*PGEventStore)(nil)

// PGEventStore is an mcp.EventStore backed by Postgres. It is safe for use
// by multiple goroutines and by multiple gateway processes sharing a database.
type PGEventStore struct {
	pool *pgxpool.Pool
}

// NewPGEventStore creates a store using the given pool.
func NewPGEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

// Open registers the stream. Reopening an existing stream is a no-op.
func (s *PGEventStore) Open(ctx context.Context, sessionID, streamID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mcp_streams (session_id, stream_id)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id, stream_id) DO NOTHING`,
		sessionID, streamID)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	return nil
}

// Append stores data as the next event of the stream. Indexes start at 0.
func (s *PGEventStore) Append(ctx context.Context, sessionID, streamID string, data []byte) error {
	tag, err := s.pool.Exec(ctx,
		`WITH next AS (
			UPDATE mcp_streams
			SET next_idx = next_idx + 1, updated_at = now()
			WHERE session_id = $1 AND stream_id = $2
			RETURNING next_idx - 1 AS idx
		)
		INSERT INTO mcp_stream_events (session_id, stream_id, idx, data)
		SELECT $1, $2, idx, $3 FROM next`,
		sessionID, streamID, data)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appending to %s/%s: %w", sessionID, streamID, ErrUnknownStream)
	}
	return nil
}

// After yields the events stored after index, in order.
func (s *PGEventStore) After(ctx context.Context, sessionID, streamID string, index int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		var nextIdx int
		err := s.pool.QueryRow(ctx,
			`SELECT next_idx FROM mcp_streams WHERE session_id = $1 AND stream_id = $2`,
			sessionID, streamID).Scan(&nextIdx)
		if errors.Is(err, pgx.ErrNoRows) {
			yield(nil, fmt.Errorf("reading %s/%s: %w", sessionID, streamID, ErrUnknownStream))
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("reading stream: %w", err))
			return
		}
		if index >= nextIdx {
			return
		}

		rows, err := s.pool.Query(ctx,
			`SELECT idx, data FROM mcp_stream_events
			 WHERE session_id = $1 AND stream_id = $2 AND idx > $3
			 ORDER BY idx`,
			sessionID, streamID, index)
		if err != nil {
			yield(nil, fmt.Errorf("reading events: %w", err))
			return
		}
		defer rows.Close()

		want := index + 1
		for rows.Next() {
			var idx int
			var data []byte
			if err := rows.Scan(&idx, &data); err != nil {
				yield(nil, fmt.Errorf("scanning event: %w", err))
				return
			}
			if idx != want {
				yield(nil, fmt.Errorf("event %d of %s/%s: %w", want, sessionID, streamID, mcp.ErrEventsPurged))
				return
			}
			want++
			if !yield(data, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("reading events: %w", err))
			return
		}
		if want != nextIdx {
			yield(nil, fmt.Errorf("event %d of %s/%s: %w", want, sessionID, streamID, mcp.ErrEventsPurged))
		}
	}
}

// SessionClosed deletes every stream of the session and their events.
func (s *PGEventStore) SessionClosed(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mcp_streams WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// Prune deletes streams with no activity since before the cutoff. Sessions
// are not guaranteed to be closed explicitly.
func (s *PGEventStore) Prune(ctx context.Context, idleFor time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM mcp_streams WHERE updated_at < $1`, time.Now().Add(-idleFor))
	if err != nil {
		return 0, fmt.Errorf("pruning streams: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Pruner is implemented by event stores that need periodic cleanup.
type Pruner interface {
	Prune(ctx context.Context, idleFor time.Duration) (int64, error)
}

// NewEventStore returns the event store named by storeURL: "memory" (or
// empty) for an in-process store, or a postgres:// URL. The returned close
// function releases any pool the store opened.
func NewEventStore(ctx context.Context, storeURL string) (mcp.EventStore, func(), error) {
	switch {
	case storeURL == "" || storeURL == "memory":
		return mcp.NewMemoryEventStore(nil), func() {}, nil
	case strings.HasPrefix(storeURL, "postgres://"), strings.HasPrefix(storeURL, "postgresql://"):
		pool, err := pgxpool.New(ctx, storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to session store: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pinging session store: %w", err)
		}
		return NewPGEventStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store URL %q: want \"memory\" or postgres://", redact(storeURL))
	}
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "..."
	}
	return "..."
}
