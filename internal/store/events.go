// ABOUTME: Agent lifecycle ledger operations on the agent_events table
// ABOUTME: Append-only writes plus newest-first listing with optional filters

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timestampFormat is fixed width so created_at sorts lexically.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SaveAgentEvent persists a lifecycle event to the database
func (s *SQLiteStore) SaveAgentEvent(ctx context.Context, event *AgentEvent) error {
	query := `
		INSERT INTO agent_events (event_id, handle_id, generation, type, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.HandleID,
		int64(event.Generation),
		string(event.Type),
		event.Detail,
		event.CreatedAt.UTC().Format(timestampFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting agent event: %w", err)
	}

	s.logger.Debug("saved agent event",
		"event_id", event.ID,
		"handle_id", event.HandleID,
		"type", event.Type,
	)
	return nil
}

// GetAgentEvent retrieves a single event by ID
func (s *SQLiteStore) GetAgentEvent(ctx context.Context, id string) (*AgentEvent, error) {
	query := `
		SELECT event_id, handle_id, generation, type, detail, created_at
		FROM agent_events
		WHERE event_id = ?
	`

	event, err := scanAgentEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent event: %w", err)
	}
	return event, nil
}

// ListAgentEvents returns events newest first, filtered by params
func (s *SQLiteStore) ListAgentEvents(ctx context.Context, params ListEventsParams) ([]*AgentEvent, error) {
	params.normalize()

	var (
		where []string
		args  []any
	)
	if params.HandleID != "" {
		where = append(where, "handle_id = ?")
		args = append(args, params.HandleID)
	}
	if params.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(params.Type))
	}

	query := `SELECT event_id, handle_id, generation, type, detail, created_at FROM agent_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		event, err := scanAgentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentEvent(row rowScanner) (*AgentEvent, error) {
	var (
		event      AgentEvent
		generation int64
		typ        string
		createdAt  string
	)
	if err := row.Scan(&event.ID, &event.HandleID, &generation, &typ, &event.Detail, &createdAt); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	event.Generation = uint64(generation)
	event.Type = AgentEventType(typ)
	event.CreatedAt = t
	return &event, nil
}
