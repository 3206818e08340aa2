package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// reservedEventTypes are written only inline by the user CRUD transactions,
// which insert their audit rows directly. CreateAudit drops any call using
// one of them, whatever the caller, so these types cannot be forged.
var reservedEventTypes = map[string]struct{}{
	EventUserRegistered:      {},
	EventFailedLogin:         {},
	EventResetFailedAttempts: {},
}

// CreateAudit appends a free-form event to the audit trail. Calls carrying a
// reserved event type are silently dropped.
func (s *Store) CreateAudit(ctx context.Context, userID *int64, eventType, eventData string) error {
	if eventType == "" {
		return fmt.Errorf("create audit: event type is required")
	}
	if _, reserved := reservedEventTypes[eventType]; reserved {
		s.logger.Debug("dropping audit event with reserved type", slog.String("event_type", eventType))
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_trail(id, user_id, event_type, event_data, created_at)
			VALUES(?, ?, ?, ?, ?)
		`, newEventID(), nullableUserID(userID), eventType, eventData, fmtTime(s.now())); err != nil {
			return fmt.Errorf("create audit: %w", err)
		}
		return nil
	})
}

// ListAudit returns events oldest first, optionally filtered by user, event
// type, and time.
func (s *Store) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, user_id, event_type, COALESCE(event_data, ''), created_at
		FROM audit_trail
		WHERE 1=1
	`
	args := make([]any, 0, 4)
	if filter.UserID != nil {
		query += ` AND user_id = ? `
		args = append(args, *filter.UserID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ? `
		args = append(args, filter.EventType)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ? `
		args = append(args, fmtTime(*filter.Since))
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ? `
	args = append(args, limit)

	events := []AuditEvent{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list audit events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				event   AuditEvent
				userID  sql.NullInt64
				created string
			)
			if err := rows.Scan(&event.ID, &userID, &event.EventType, &event.EventData, &created); err != nil {
				return fmt.Errorf("list audit events: scan row: %w", err)
			}
			if userID.Valid {
				id := userID.Int64
				event.UserID = &id
			}
			event.CreatedAt, err = parseTime(created)
			if err != nil {
				return err
			}
			events = append(events, event)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list audit events: iterate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func nullableUserID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
