package db

import (
	"context"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	activityColumns = `id, activity_uri, activity_type, actor_id, object_id, raw_json, local, created_at`

	sqlInsertActivity = `INSERT INTO activities(` + activityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectActivityByURI   = `SELECT ` + activityColumns + ` FROM activities WHERE activity_uri = ?`
	sqlSelectLocalActivities = `SELECT ` + activityColumns + ` FROM activities WHERE actor_id = ? AND local = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
)

// InsertActivity appends to the activity log. A repeated activity uri is ignored.
func (db *DB) InsertActivity(ctx context.Context, a *domain.ActivityRecord) (bool, error) {
	if a.Id == "" {
		a.Id = uuid.NewString()
	}
	return db.exec(ctx, db.db, sqlInsertActivity,
		a.Id,
		a.ActivityURI,
		a.ActivityType,
		a.ActorID,
		a.ObjectID,
		a.RawJSON,
		a.Local,
		utc(a.CreatedAt),
	)
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.ActivityRecord, error) {
	return scanActivity(db.db.QueryRowContext(ctx, db.q(sqlSelectActivityByURI), uri))
}

// ReadLocalActivities returns activities authored by actorID, newest first.
func (db *DB) ReadLocalActivities(ctx context.Context, actorID string, limit, offset int) ([]domain.ActivityRecord, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectLocalActivities), actorID, true, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ActivityRecord
	for rows.Next() {
		r, err := scanActivity(rows)
		if err != nil {
			return records, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanActivity(row rowScanner) (*domain.ActivityRecord, error) {
	var r domain.ActivityRecord
	err := row.Scan(&r.Id, &r.ActivityURI, &r.ActivityType, &r.ActorID, &r.ObjectID, &r.RawJSON, &r.Local, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}
