package db

import (
	"context"

	"github.com/deemkeen/stegofed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification  = `INSERT INTO actor_notifications(id, type, actor_id, from_actor_id, object_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT id, type, actor_id, from_actor_id, object_id, created_at FROM actor_notifications
		WHERE actor_id = ? ORDER BY created_at DESC LIMIT ?`
	sqlCountNotificationsOfType = `SELECT COUNT(*) FROM actor_notifications WHERE actor_id = ? AND type = ?`
)

func (db *DB) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.Id == "" {
		n.Id = uuid.NewString()
	}
	_, err := db.exec(ctx, db.db, sqlInsertNotification,
		n.Id,
		string(n.Type),
		n.ActorID,
		n.FromActorID,
		n.ObjectID,
		utc(n.CreatedAt),
	)
	return err
}

// ReadNotifications returns the newest notifications of actorID.
func (db *DB) ReadNotifications(ctx context.Context, actorID string, limit int) ([]domain.Notification, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectNotifications), actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var typ string
		if err := rows.Scan(&n.Id, &typ, &n.ActorID, &n.FromActorID, &n.ObjectID, &n.CreatedAt); err != nil {
			return notifications, err
		}
		n.Type = domain.NotificationType(typ)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (db *DB) CountNotifications(ctx context.Context, actorID string, typ domain.NotificationType) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, db.q(sqlCountNotificationsOfType), actorID, string(typ)).Scan(&n)
	return n, err
}
