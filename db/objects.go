package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	objectColumns = `id, mastodon_id, type, original_actor_id, original_object_id, reply_to_object_id, properties, local, created_at`

	sqlInsertObject = `INSERT INTO objects(` + objectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectObjectById         = `SELECT ` + objectColumns + ` FROM objects WHERE id = ?`
	sqlSelectObjectByOriginalId = `SELECT ` + objectColumns + ` FROM objects WHERE original_object_id = ?`
	sqlSelectObjectByPublicId   = `SELECT ` + objectColumns + ` FROM objects WHERE mastodon_id = ?`
	sqlUpdateObjectProperties   = `UPDATE objects SET properties = ? WHERE id = ?`
	sqlCountObjects             = `SELECT COUNT(*) FROM objects`

	sqlInsertRevision       = `INSERT INTO object_revisions(id, object_id, properties, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectLatestRevision = `SELECT id, object_id, properties, created_at FROM object_revisions WHERE object_id = ? ORDER BY created_at DESC LIMIT 1`
	sqlSelectRevisions      = `SELECT id, object_id, properties, created_at FROM object_revisions WHERE object_id = ? ORDER BY created_at ASC`
)

// objects are referenced from these tables by object_id
var objectReferences = []string{
	`DELETE FROM inbox_objects WHERE object_id = ?`,
	`DELETE FROM outbox_objects WHERE object_id = ?`,
	`DELETE FROM actor_notifications WHERE object_id = ?`,
	`DELETE FROM actor_favourites WHERE object_id = ?`,
	`DELETE FROM actor_reblogs WHERE object_id = ?`,
	`DELETE FROM actor_replies WHERE object_id = ?`,
	`DELETE FROM object_revisions WHERE object_id = ?`,
	`DELETE FROM objects WHERE id = ?`,
}

// InsertObject stores a new object. It reports false when an object with
// the same id or original identity already exists.
func (db *DB) InsertObject(ctx context.Context, o *domain.Object) (bool, error) {
	props, err := o.Properties.Canonical()
	if err != nil {
		return false, fmt.Errorf("encode properties: %w", err)
	}
	return db.exec(ctx, db.db, sqlInsertObject,
		o.ID,
		o.Meta.PublicID,
		o.Type,
		o.Meta.OriginalActorID,
		o.OriginalID(),
		o.Meta.ReplyToObjectID,
		string(props),
		o.Meta.Local,
		utc(o.Meta.CreatedAt),
	)
}

func (db *DB) ReadObjectById(ctx context.Context, id string) (*domain.Object, error) {
	return scanObject(db.db.QueryRowContext(ctx, db.q(sqlSelectObjectById), id))
}

func (db *DB) ReadObjectByOriginalId(ctx context.Context, originalID string) (*domain.Object, error) {
	return scanObject(db.db.QueryRowContext(ctx, db.q(sqlSelectObjectByOriginalId), originalID))
}

func (db *DB) ReadObjectByPublicId(ctx context.Context, publicID string) (*domain.Object, error) {
	return scanObject(db.db.QueryRowContext(ctx, db.q(sqlSelectObjectByPublicId), publicID))
}

func (db *DB) CountObjects(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountObjects)).Scan(&n)
	return n, err
}

// ReplaceObjectProperties overwrites the property bag of an object. When
// revision is non-nil it is appended to the history in the same transaction.
func (db *DB) ReplaceObjectProperties(ctx context.Context, objectID string, props domain.Properties, revision *domain.Revision) error {
	encoded, err := props.Canonical()
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if revision != nil {
			old, err := revision.Properties.Canonical()
			if err != nil {
				return fmt.Errorf("encode revision: %w", err)
			}
			if revision.Id == "" {
				revision.Id = uuid.NewString()
			}
			if _, err := db.exec(ctx, tx, sqlInsertRevision, revision.Id, objectID, string(old), utc(revision.CreatedAt)); err != nil {
				return fmt.Errorf("insert revision: %w", err)
			}
		}
		_, err := db.exec(ctx, tx, sqlUpdateObjectProperties, string(encoded), objectID)
		return err
	})
}

func (db *DB) ReadLatestRevision(ctx context.Context, objectID string) (*domain.Revision, error) {
	return scanRevision(db.db.QueryRowContext(ctx, db.q(sqlSelectLatestRevision), objectID))
}

func (db *DB) ReadRevisions(ctx context.Context, objectID string) ([]domain.Revision, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectRevisions), objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []domain.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return revisions, err
		}
		revisions = append(revisions, *r)
	}
	return revisions, rows.Err()
}

// DeleteObject removes an object together with every row referencing it.
func (db *DB) DeleteObject(ctx context.Context, objectID string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range objectReferences {
			if _, err := db.exec(ctx, tx, stmt, objectID); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanObject(row rowScanner) (*domain.Object, error) {
	var o domain.Object
	var props string
	err := row.Scan(
		&o.ID,
		&o.Meta.PublicID,
		&o.Type,
		&o.Meta.OriginalActorID,
		&o.Meta.OriginalObjectID,
		&o.Meta.ReplyToObjectID,
		&props,
		&o.Meta.Local,
		&o.Meta.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(props), &o.Properties); err != nil {
		return nil, fmt.Errorf("decode properties of %s: %w", o.ID, err)
	}
	if o.Properties == nil {
		o.Properties = domain.Properties{}
	}
	return &o, nil
}

func scanRevision(row rowScanner) (*domain.Revision, error) {
	var r domain.Revision
	var props string
	if err := row.Scan(&r.Id, &r.ObjectID, &props, &r.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
		return nil, fmt.Errorf("decode revision %s: %w", r.Id, err)
	}
	return &r, nil
}
