package db

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const sqlNextVal = `INSERT INTO id_sequences(table_name, seq) VALUES (?, 1)
	ON CONFLICT(table_name) DO UPDATE SET seq = id_sequences.seq + 1
	RETURNING seq`

// NextID returns a public identifier for a new row of table created at now.
//
// The creation time in milliseconds occupies the high bits, so ids sort by
// creation time. The low 16 bits mix a hash of {table, salt, timestamp} with
// the table's persisted sequence, which keeps ids created within the same
// millisecond distinct.
func (db *DB) NextID(ctx context.Context, table string, now time.Time) (string, error) {
	seq, err := db.nextval(ctx, table)
	if err != nil {
		return "", fmt.Errorf("nextval %s: %w", table, err)
	}
	return composeID(table, db.idSalt, now, seq), nil
}

func (db *DB) nextval(ctx context.Context, table string) (int64, error) {
	var seq int64
	err := db.db.QueryRowContext(ctx, db.q(sqlNextVal), table).Scan(&seq)
	return seq, err
}

func composeID(table string, salt []byte, now time.Time, seq int64) string {
	shifted := uint64(now.UnixMilli()) << 16

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], shifted)

	h := sha256.New()
	h.Write([]byte(table))
	h.Write(salt)
	h.Write(ts[:])
	sum := h.Sum(nil)

	base := uint64(binary.BigEndian.Uint16(sum[:2]))
	tail := (base + uint64(seq)) & 0xffff
	return strconv.FormatUint(shifted|tail, 10)
}

// CompareIDs orders two public ids numerically without parsing them.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
