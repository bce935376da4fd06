package db

import (
	"context"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertInbox = `INSERT INTO inbox_objects(id, actor_id, object_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectInbox = `SELECT id, actor_id, object_id, created_at FROM inbox_objects
		WHERE actor_id = ? ORDER BY created_at DESC LIMIT ?`

	sqlInsertOutbox = `INSERT INTO outbox_objects(id, actor_id, object_id, target, published_date, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectOutbox = `SELECT id, actor_id, object_id, target, published_date, created_at FROM outbox_objects
		WHERE actor_id = ? ORDER BY published_date DESC LIMIT ?`
	sqlCountOutbox = `SELECT COUNT(DISTINCT object_id) FROM outbox_objects WHERE actor_id = ?`
)

// InsertInbox adds objectID to the home timeline of actorID.
func (db *DB) InsertInbox(ctx context.Context, actorID, objectID string) (bool, error) {
	return db.exec(ctx, db.db, sqlInsertInbox, uuid.NewString(), actorID, objectID, time.Now().UTC())
}

func (db *DB) ReadInbox(ctx context.Context, actorID string, limit int) ([]domain.TimelineEntry, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectInbox), actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.Id, &e.ActorID, &e.ObjectID, &e.CreatedAt); err != nil {
			return entries, err
		}
		e.PublishedDate = e.CreatedAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertOutbox records objectID in the outbox of actorID for one addressed target.
func (db *DB) InsertOutbox(ctx context.Context, e *domain.TimelineEntry) (bool, error) {
	if e.Id == "" {
		e.Id = uuid.NewString()
	}
	return db.exec(ctx, db.db, sqlInsertOutbox, e.Id, e.ActorID, e.ObjectID, e.Target, utc(e.PublishedDate), utc(e.CreatedAt))
}

func (db *DB) ReadOutbox(ctx context.Context, actorID string, limit int) ([]domain.TimelineEntry, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectOutbox), actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.Id, &e.ActorID, &e.ObjectID, &e.Target, &e.PublishedDate, &e.CreatedAt); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) CountOutbox(ctx context.Context, actorID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountOutbox), actorID).Scan(&n)
	return n, err
}
