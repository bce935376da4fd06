package db

import (
	"context"
	"database/sql"
	"encoding/base64"

	"github.com/deemkeen/stegofed/domain"
)

const (
	actorColumns = `id, mastodon_id, type, username, domain, display_name, summary, icon_url, inbox, outbox, followers, following, shared_inbox, public_key_pem, private_key, private_key_salt, local, last_fetched_at, created_at`

	sqlInsertActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`
	sqlSelectActorById        = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByPublicId  = `SELECT ` + actorColumns + ` FROM actors WHERE mastodon_id = ?`
	sqlSelectActorByUsername  = `SELECT ` + actorColumns + ` FROM actors WHERE username = ? AND domain = ? ORDER BY local DESC LIMIT 1`
	sqlSelectLocalActors      = `SELECT ` + actorColumns + ` FROM actors WHERE local = ? ORDER BY created_at ASC`
	sqlUpdateRemoteActor      = `UPDATE actors SET type = ?, username = ?, domain = ?, display_name = ?, summary = ?, icon_url = ?, inbox = ?, outbox = ?, followers = ?, following = ?, shared_inbox = ?, public_key_pem = ?, last_fetched_at = ? WHERE id = ? AND local = ?`
)

// InsertActor stores a new actor. It reports false when a row with the same
// canonical URL already exists.
func (db *DB) InsertActor(ctx context.Context, a *domain.Actor) (bool, error) {
	return db.exec(ctx, db.db, sqlInsertActor,
		a.ID,
		a.PublicID,
		a.Type,
		a.Username,
		a.Domain,
		a.DisplayName,
		a.Summary,
		a.IconURL,
		a.Inbox,
		a.Outbox,
		a.Followers,
		a.Following,
		a.SharedInbox,
		a.PublicKeyPem,
		base64.StdEncoding.EncodeToString(a.PrivateKey),
		base64.StdEncoding.EncodeToString(a.PrivateKeySalt),
		a.Local,
		utc(a.LastFetchedAt),
		utc(a.CreatedAt),
	)
}

func (db *DB) ReadActorById(ctx context.Context, id string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, db.q(sqlSelectActorById), id))
}

func (db *DB) ReadActorByPublicId(ctx context.Context, publicID string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, db.q(sqlSelectActorByPublicId), publicID))
}

func (db *DB) ReadActorByUsername(ctx context.Context, username, domainName string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, db.q(sqlSelectActorByUsername), username, domainName))
}

func (db *DB) ReadLocalActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectLocalActors), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return actors, err
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

// UpdateRemoteActor refreshes the profile of a cached remote actor. The
// public id and creation time are kept.
func (db *DB) UpdateRemoteActor(ctx context.Context, a *domain.Actor) error {
	_, err := db.exec(ctx, db.db, sqlUpdateRemoteActor,
		a.Type,
		a.Username,
		a.Domain,
		a.DisplayName,
		a.Summary,
		a.IconURL,
		a.Inbox,
		a.Outbox,
		a.Followers,
		a.Following,
		a.SharedInbox,
		a.PublicKeyPem,
		utc(a.LastFetchedAt),
		a.ID,
		false,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*domain.Actor, error) {
	var a domain.Actor
	var privKey, privSalt string
	err := row.Scan(
		&a.ID,
		&a.PublicID,
		&a.Type,
		&a.Username,
		&a.Domain,
		&a.DisplayName,
		&a.Summary,
		&a.IconURL,
		&a.Inbox,
		&a.Outbox,
		&a.Followers,
		&a.Following,
		&a.SharedInbox,
		&a.PublicKeyPem,
		&privKey,
		&privSalt,
		&a.Local,
		&a.LastFetchedAt,
		&a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if privKey != "" {
		a.PrivateKey, _ = base64.StdEncoding.DecodeString(privKey)
		a.PrivateKeySalt, _ = base64.StdEncoding.DecodeString(privSalt)
	}
	return &a, nil
}
