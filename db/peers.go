package db

import (
	"context"
	"time"

	"github.com/deemkeen/stegofed/domain"
)

const (
	sqlInsertPeer  = `INSERT INTO peers(domain, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlSelectPeers = `SELECT domain, created_at FROM peers ORDER BY domain ASC`
)

// InsertPeer remembers a remote hostname. Known hosts are ignored.
func (db *DB) InsertPeer(ctx context.Context, domainName string) (bool, error) {
	return db.exec(ctx, db.db, sqlInsertPeer, domainName, time.Now().UTC())
}

func (db *DB) ReadPeers(ctx context.Context) ([]domain.Peer, error) {
	rows, err := db.db.QueryContext(ctx, db.q(sqlSelectPeers))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []domain.Peer
	for rows.Next() {
		var p domain.Peer
		if err := rows.Scan(&p.Domain, &p.CreatedAt); err != nil {
			return peers, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
