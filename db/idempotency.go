package db

import (
	"context"
	"database/sql"
	"time"
)

const (
	sqlDeleteExpiredKey  = `DELETE FROM idempotency_keys WHERE idempotency_key = ? AND expires_at < ?`
	sqlInsertIdempotency = `INSERT INTO idempotency_keys(idempotency_key, object_id, expires_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlPurgeIdempotency  = `DELETE FROM idempotency_keys WHERE expires_at < ?`
	sqlReleaseKey        = `DELETE FROM idempotency_keys WHERE idempotency_key = ?`
)

// ClaimIdempotencyKey records key until now+ttl. It reports false when a
// live claim for the key already exists.
func (db *DB) ClaimIdempotencyKey(ctx context.Context, key, objectID string, now time.Time, ttl time.Duration) (bool, error) {
	now = utc(now)
	var claimed bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, sqlDeleteExpiredKey, key, now); err != nil {
			return err
		}
		var err error
		claimed, err = db.exec(ctx, tx, sqlInsertIdempotency, key, objectID, now.Add(ttl))
		return err
	})
	return claimed, err
}

// ReleaseIdempotencyKey drops a claim so the message can be handled again.
func (db *DB) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	_, err := db.exec(ctx, db.db, sqlReleaseKey, key)
	return err
}

// PurgeIdempotencyKeys removes every key that expired before now.
func (db *DB) PurgeIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, db.q(sqlPurgeIdempotency), utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
