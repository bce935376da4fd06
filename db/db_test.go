package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(context.Background()))
	return database
}

func remoteActor(id, username, host string) *domain.Actor {
	return &domain.Actor{
		ID:           id,
		PublicID:     username + "-pub",
		Type:         "Person",
		Username:     username,
		Domain:       host,
		Inbox:        id + "/inbox",
		PublicKeyPem: "-----BEGIN PUBLIC KEY-----",
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.Migrate(context.Background()))
}

func TestNextIDDistinctUnderConcurrency(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	const n = 50
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = database.NextID(ctx, "objects", now)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
}

func TestNextIDMonotonicAcrossMilliseconds(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	earlier := time.UnixMilli(1700000000000)
	later := earlier.Add(time.Millisecond)

	var early []string
	for i := 0; i < 20; i++ {
		id, err := database.NextID(ctx, "actors", earlier)
		require.NoError(t, err)
		early = append(early, id)
	}

	next, err := database.NextID(ctx, "actors", later)
	require.NoError(t, err)
	for _, id := range early {
		assert.Equal(t, 1, CompareIDs(next, id), "%s should sort after %s", next, id)
	}
}

func TestCompareIDs(t *testing.T) {
	assert.Equal(t, 0, CompareIDs("123", "123"))
	assert.Equal(t, -1, CompareIDs("99", "100"))
	assert.Equal(t, 1, CompareIDs("0200", "199"))
}

func TestComposeIDWrapsTail(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := composeID("objects", []byte("salt"), now, 1)
	b := composeID("objects", []byte("salt"), now, 1+0x10000)
	// the tail is masked to 16 bits
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, composeID("objects", []byte("salt"), now, 2))
}

func TestActorInsertIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	bob := remoteActor("https://b.example/users/bob", "bob", "b.example")

	created, err := database.InsertActor(ctx, bob)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = database.InsertActor(ctx, bob)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := database.ReadActorById(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob@b.example", stored.Acct())
	assert.False(t, stored.Local)

	_, err = database.ReadActorById(ctx, "https://b.example/users/nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestObjectRevisionsAndDelete(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	obj := &domain.Object{
		ID:         "https://local.example/objects/1",
		Type:       "Note",
		Properties: domain.Properties{"content": "first"},
		Meta: domain.ObjectMeta{
			PublicID:         "1",
			OriginalActorID:  "https://b.example/users/bob",
			OriginalObjectID: "https://b.example/notes/1",
		},
	}
	created, err := database.InsertObject(ctx, obj)
	require.NoError(t, err)
	require.True(t, created)

	created, err = database.InsertObject(ctx, obj)
	require.NoError(t, err)
	assert.False(t, created)

	err = database.ReplaceObjectProperties(ctx, obj.ID, domain.Properties{"content": "second"},
		&domain.Revision{ObjectID: obj.ID, Properties: obj.Properties})
	require.NoError(t, err)

	stored, err := database.ReadObjectByOriginalId(ctx, "https://b.example/notes/1")
	require.NoError(t, err)
	assert.Equal(t, "second", stored.Properties.String("content"))

	latest, err := database.ReadLatestRevision(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", latest.Properties.String("content"))

	_, err = database.InsertFavourite(ctx, &domain.Favourite{ActorID: "https://c.example/users/carol", ObjectID: obj.ID})
	require.NoError(t, err)

	require.NoError(t, database.DeleteObject(ctx, obj.ID))

	count, err := database.CountObjects(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	favs, err := database.CountFavourites(ctx, obj.ID)
	require.NoError(t, err)
	assert.Zero(t, favs)
	revisions, err := database.ReadRevisions(ctx, obj.ID)
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestFollowLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	alice := "https://local.example/users/alice"
	bob := "https://b.example/users/bob"

	accepted, err := database.AcceptFollow(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, accepted, "accept without an edge is a no-op")

	created, err := database.InsertFollow(ctx, &domain.Follow{ActorID: bob, TargetActorID: alice})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = database.InsertFollow(ctx, &domain.Follow{ActorID: bob, TargetActorID: alice})
	require.NoError(t, err)
	assert.False(t, created)

	f, err := database.ReadFollow(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.FollowPending, f.State)

	n, err := database.CountFollowers(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n, "pending edges are not followers")

	accepted, err = database.AcceptFollow(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, accepted)

	followers, err := database.ReadFollowers(ctx, alice, 10, 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, bob, followers[0].ActorID)

	removed, err := database.DeleteFollow(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = database.ReadFollow(ctx, bob, alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReblogDedupe(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	r := &domain.Reblog{PublicID: "1", ActorID: "https://b.example/users/bob", ObjectID: "https://local.example/objects/1"}
	created, err := database.InsertReblog(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = database.InsertReblog(ctx, &domain.Reblog{PublicID: "2", ActorID: r.ActorID, ObjectID: r.ObjectID})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := database.CountReblogs(ctx, r.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIdempotencyKeyClaim(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	claimed, err := database.ClaimIdempotencyKey(ctx, "https://b.example/activities/1", "", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = database.ClaimIdempotencyKey(ctx, "https://b.example/activities/1", "", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)

	// an expired claim can be taken again
	claimed, err = database.ClaimIdempotencyKey(ctx, "https://b.example/activities/1", "", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	purged, err := database.PurgeIdempotencyKeys(ctx, now.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestPeersAreUnique(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, host := range []string{"b.example", "a.example", "b.example"} {
		_, err := database.InsertPeer(ctx, host)
		require.NoError(t, err)
	}
	peers, err := database.ReadPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "a.example", peers[0].Domain)
}

func TestQueueClaimLeases(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.EnqueueMessage(ctx, &domain.QueueMessage{
		Type:     domain.MessageDeliver,
		ActorID:  "https://local.example/users/alice",
		Activity: []byte(`{"type":"Accept"}`),
	})
	require.NoError(t, err)

	now := time.Now().Add(time.Second)
	items, err := database.ClaimMessages(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.MessageDeliver, items[0].Message.Type)
	assert.JSONEq(t, `{"type":"Accept"}`, string(items[0].Message.Activity))

	again, err := database.ClaimMessages(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased messages are not handed out twice")

	require.NoError(t, database.RescheduleMessage(ctx, items[0].Id, 1, now.Add(time.Hour)))
	again, err = database.ClaimMessages(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "rescheduled messages wait for their retry time")

	again, err = database.ClaimMessages(ctx, now.Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].Attempts)

	require.NoError(t, database.DeleteMessage(ctx, items[0].Id))
	n, err := database.CountMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresRebind(t *testing.T) {
	got := PostgresDialect{}.Rebind(`SELECT a FROM t WHERE x = ? AND y = '?' AND z = ?`)
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = '?' AND z = $2`, got)
}
