package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ErrorStore implements domain.ErrorStore using PostgreSQL.
type ErrorStore struct {
	pool *pgxpool.Pool
}

// NewErrorStore creates a new ErrorStore backed by the given connection pool.
func NewErrorStore(pool *pgxpool.Pool) *ErrorStore {
	return &ErrorStore{pool: pool}
}

// Record appends an error event. The detail map is stored as JSONB.
func (s *ErrorStore) Record(ctx context.Context, ev domain.ErrorEvent) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal error detail: %w", err)
	}

	const query = `INSERT INTO error_events (kind, message, detail, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, ev.Kind, ev.Message, detailJSON, ev.CreatedAt); err != nil {
		return fmt.Errorf("postgres: record error event %s: %w", ev.Kind, err)
	}
	return nil
}
