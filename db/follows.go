package db

import (
	"context"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	followColumns = `id, actor_id, target_actor_id, target_actor_acct, uri, state, created_at`

	sqlInsertFollow = `INSERT INTO actor_following(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlAcceptFollow          = `UPDATE actor_following SET state = ? WHERE actor_id = ? AND target_actor_id = ?`
	sqlDeleteFollow          = `DELETE FROM actor_following WHERE actor_id = ? AND target_actor_id = ?`
	sqlDeleteFollowsByActor  = `DELETE FROM actor_following WHERE actor_id = ? OR target_actor_id = ?`
	sqlSelectFollow          = `SELECT ` + followColumns + ` FROM actor_following WHERE actor_id = ? AND target_actor_id = ?`
	sqlSelectFollowers       = `SELECT ` + followColumns + ` FROM actor_following WHERE target_actor_id = ? AND state = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	sqlSelectFollowing       = `SELECT ` + followColumns + ` FROM actor_following WHERE actor_id = ? AND state = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	sqlCountFollowers        = `SELECT COUNT(*) FROM actor_following WHERE target_actor_id = ? AND state = ?`
	sqlCountFollowing        = `SELECT COUNT(*) FROM actor_following WHERE actor_id = ? AND state = ?`
	sqlSelectLocalFollowers  = `SELECT f.actor_id FROM actor_following f JOIN actors a ON a.id = f.actor_id
		WHERE f.target_actor_id = ? AND f.state = ? AND a.local = ? ORDER BY f.created_at ASC`
	sqlSelectFollowsByTarget = `SELECT ` + followColumns + ` FROM actor_following WHERE target_actor_id = ? ORDER BY created_at ASC`
)

// InsertFollow adds an edge. An existing edge for the same pair is left
// untouched and false is returned.
func (db *DB) InsertFollow(ctx context.Context, f *domain.Follow) (bool, error) {
	if f.Id == "" {
		f.Id = uuid.NewString()
	}
	if f.State == "" || f.State == domain.FollowNone {
		f.State = domain.FollowPending
	}
	return db.exec(ctx, db.db, sqlInsertFollow,
		f.Id,
		f.ActorID,
		f.TargetActorID,
		f.TargetActorAcct,
		f.URI,
		string(f.State),
		utc(f.CreatedAt),
	)
}

// AcceptFollow moves an existing edge to accepted. It reports false when no
// edge exists.
func (db *DB) AcceptFollow(ctx context.Context, actorID, targetID string) (bool, error) {
	return db.exec(ctx, db.db, sqlAcceptFollow, string(domain.FollowAccepted), actorID, targetID)
}

func (db *DB) DeleteFollow(ctx context.Context, actorID, targetID string) (bool, error) {
	return db.exec(ctx, db.db, sqlDeleteFollow, actorID, targetID)
}

// DeleteFollowsByActor removes every edge from or to actorID.
func (db *DB) DeleteFollowsByActor(ctx context.Context, actorID string) error {
	_, err := db.exec(ctx, db.db, sqlDeleteFollowsByActor, actorID, actorID)
	return err
}

func (db *DB) ReadFollow(ctx context.Context, actorID, targetID string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, db.q(sqlSelectFollow), actorID, targetID))
}

// ReadFollowers returns a page of accepted edges pointing at targetID.
func (db *DB) ReadFollowers(ctx context.Context, targetID string, limit, offset int) ([]domain.Follow, error) {
	return db.readFollows(ctx, sqlSelectFollowers, targetID, string(domain.FollowAccepted), limit, offset)
}

// ReadFollowing returns a page of accepted edges starting at actorID.
func (db *DB) ReadFollowing(ctx context.Context, actorID string, limit, offset int) ([]domain.Follow, error) {
	return db.readFollows(ctx, sqlSelectFollowing, actorID, string(domain.FollowAccepted), limit, offset)
}

// ReadFollowsByTarget returns every edge pointing at targetID regardless of state.
func (db *DB) ReadFollowsByTarget(ctx context.Context, targetID string) ([]domain.Follow, error) {
	return db.readFollows(ctx, sqlSelectFollowsByTarget, targetID)
}

func (db *DB) CountFollowers(ctx context.Context, targetID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountFollowers), targetID, string(domain.FollowAccepted)).Scan(&n)
	return n, err
}

func (db *DB) CountFollowing(ctx context.Context, actorID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountFollowing), actorID, string(domain.FollowAccepted)).Scan(&n)
	return n, err
}

// ReadLocalFollowers returns the ids of local actors with an accepted edge to targetID.
func (db *DB) ReadLocalFollowers(ctx context.Context, targetID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectLocalFollowers), targetID, string(domain.FollowAccepted), true)
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

func (db *DB) readFollows(ctx context.Context, query string, args ...any) ([]domain.Follow, error) {
	rows, err := db.db.QueryContext(ctx, db.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		f, err := scanFollow(rows)
		if err != nil {
			return follows, err
		}
		follows = append(follows, *f)
	}
	return follows, rows.Err()
}

func scanFollow(row rowScanner) (*domain.Follow, error) {
	var f domain.Follow
	var state string
	if err := row.Scan(&f.Id, &f.ActorID, &f.TargetActorID, &f.TargetActorAcct, &f.URI, &state, &f.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	f.State = domain.FollowState(state)
	return &f, nil
}
