package db

import (
	"context"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertFavourite = `INSERT INTO actor_favourites(id, actor_id, object_id, uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlDeleteFavourite = `DELETE FROM actor_favourites WHERE actor_id = ? AND object_id = ?`
	sqlCountFavourites = `SELECT COUNT(*) FROM actor_favourites WHERE object_id = ?`

	sqlInsertReblog = `INSERT INTO actor_reblogs(id, mastodon_id, actor_id, object_id, uri, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlDeleteReblog      = `DELETE FROM actor_reblogs WHERE actor_id = ? AND object_id = ?`
	sqlCountReblogs      = `SELECT COUNT(*) FROM actor_reblogs WHERE object_id = ?`
	sqlSelectLocalReblog = `SELECT r.actor_id FROM actor_reblogs r JOIN actors a ON a.id = r.actor_id
		WHERE r.object_id = ? AND a.local = ?`

	sqlInsertReply = `INSERT INTO actor_replies(id, actor_id, object_id, in_reply_to_object_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectReplies = `SELECT id, actor_id, object_id, in_reply_to_object_id, created_at FROM actor_replies
		WHERE in_reply_to_object_id = ? ORDER BY created_at ASC`
)

// InsertFavourite records a like. It reports false for a repeated like.
func (db *DB) InsertFavourite(ctx context.Context, f *domain.Favourite) (bool, error) {
	if f.Id == "" {
		f.Id = uuid.NewString()
	}
	return db.exec(ctx, db.db, sqlInsertFavourite, f.Id, f.ActorID, f.ObjectID, f.URI, utc(f.CreatedAt))
}

func (db *DB) DeleteFavourite(ctx context.Context, actorID, objectID string) (bool, error) {
	return db.exec(ctx, db.db, sqlDeleteFavourite, actorID, objectID)
}

func (db *DB) CountFavourites(ctx context.Context, objectID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountFavourites), objectID).Scan(&n)
	return n, err
}

// InsertReblog records an announce. It reports false when the actor already
// reblogged the object.
func (db *DB) InsertReblog(ctx context.Context, r *domain.Reblog) (bool, error) {
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	return db.exec(ctx, db.db, sqlInsertReblog, r.Id, r.PublicID, r.ActorID, r.ObjectID, r.URI, utc(r.CreatedAt))
}

func (db *DB) DeleteReblog(ctx context.Context, actorID, objectID string) (bool, error) {
	return db.exec(ctx, db.db, sqlDeleteReblog, actorID, objectID)
}

func (db *DB) CountReblogs(ctx context.Context, objectID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountReblogs), objectID).Scan(&n)
	return n, err
}

// ReadLocalRebloggers returns the ids of local actors that reblogged objectID.
func (db *DB) ReadLocalRebloggers(ctx context.Context, objectID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectLocalReblog), objectID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) InsertReply(ctx context.Context, r *domain.Reply) (bool, error) {
	if r.Id == "" {
		r.Id = uuid.NewString()
	}
	return db.exec(ctx, db.db, sqlInsertReply, r.Id, r.ActorID, r.ObjectID, r.InReplyToObject, utc(r.CreatedAt))
}

func (db *DB) ReadReplies(ctx context.Context, parentID string) ([]domain.Reply, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectReplies), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []domain.Reply
	for rows.Next() {
		var r domain.Reply
		if err := rows.Scan(&r.Id, &r.ActorID, &r.ObjectID, &r.InReplyToObject, &r.CreatedAt); err != nil {
			return replies, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}
