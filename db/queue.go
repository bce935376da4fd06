package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

// Queue message queries
const (
	sqlInsertQueueMessage = `INSERT INTO queue_messages(id, type, body, attempts, next_retry_at, locked_until, created_at) VALUES (?, ?, ?, ?, ?, NULL, ?)`
	sqlSelectDueMessages  = `SELECT id FROM queue_messages WHERE next_retry_at <= ? AND (locked_until IS NULL OR locked_until < ?) ORDER BY created_at ASC LIMIT ?`
	sqlLockQueueMessage   = `UPDATE queue_messages SET locked_until = ? WHERE id = ? AND (locked_until IS NULL OR locked_until < ?)`
	sqlSelectQueueMessage = `SELECT id, type, body, attempts, next_retry_at, created_at FROM queue_messages WHERE id = ?`
	sqlUpdateQueueAttempt = `UPDATE queue_messages SET attempts = ?, next_retry_at = ?, locked_until = NULL WHERE id = ?`
	sqlDeleteQueueMessage = `DELETE FROM queue_messages WHERE id = ?`
	sqlCountQueueMessages = `SELECT COUNT(*) FROM queue_messages`
)

// EnqueueMessage persists msg for immediate processing.
func (db *DB) EnqueueMessage(ctx context.Context, msg *domain.QueueMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode queue message: %w", err)
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = db.exec(ctx, db.db, sqlInsertQueueMessage, id, string(msg.Type), string(body), 0, now, now)
	return id, err
}

// ClaimMessages leases up to limit due messages until now+lease. A message
// leased by another worker is skipped until its lease runs out.
func (db *DB) ClaimMessages(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.QueueItem, error) {
	now = utc(now)
	var items []domain.QueueItem
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		items = items[:0]
		rows, err := tx.QueryContext(ctx, db.q(sqlSelectDueMessages), now, now, limit)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			locked, err := db.exec(ctx, tx, sqlLockQueueMessage, now.Add(lease), id, now)
			if err != nil {
				return err
			}
			if !locked {
				continue
			}
			item, err := scanQueueItem(tx.QueryRowContext(ctx, db.q(sqlSelectQueueMessage), id))
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		return nil
	})
	return items, err
}

// RescheduleMessage releases the lease and sets the next attempt.
func (db *DB) RescheduleMessage(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	_, err := db.exec(ctx, db.db, sqlUpdateQueueAttempt, attempts, utc(nextRetryAt), id)
	return err
}

func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	_, err := db.exec(ctx, db.db, sqlDeleteQueueMessage, id)
	return err
}

func (db *DB) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountQueueMessages)).Scan(&n)
	return n, err
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var typ, body string
	if err := row.Scan(&item.Id, &typ, &body, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(body), &item.Message); err != nil {
		return nil, fmt.Errorf("decode queue message %s: %w", item.Id, err)
	}
	item.Message.Type = domain.MessageType(typ)
	return &item, nil
}
