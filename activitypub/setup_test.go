package activitypub

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/stretchr/testify/require"
)

const testKEK = "test-kek"

// memQueue records submitted messages.
type memQueue struct {
	mu   sync.Mutex
	msgs []domain.QueueMessage
}

func (q *memQueue) Submit(ctx context.Context, msg *domain.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, *msg)
	return nil
}

func (q *memQueue) messages() []domain.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueueMessage(nil), q.msgs...)
}

type testEnv struct {
	ctx        context.Context
	db         *db.DB
	opts       Options
	queue      *memQueue
	fetcher    *Fetcher
	actors     *ActorStore
	objects    *ObjectStore
	follows    *FollowGraph
	delivery   *Delivery
	outbox     *Outbox
	walker     *CollectionWalker
	dispatcher *Dispatcher
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(context.Background()))
	return database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		ctx: context.Background(),
		db:  newTestDB(t),
		opts: Options{
			Domain:             "local.example",
			Scheme:             "http",
			UserKEK:            testKEK,
			ActorRefresh:       24 * time.Hour,
			MaxCollectionPages: 5,
			MaxCollectionItems: 50,
			BatchSize:          3,
			IdempotencyTTL:     time.Hour,
		},
		queue:   &memQueue{},
		fetcher: NewFetcher(5 * time.Second),
	}
	e.actors = NewActorStore(e.db, e.fetcher, e.opts)
	e.objects = NewObjectStore(e.db, e.actors, e.fetcher, e.opts)
	e.follows = NewFollowGraph(e.db)
	e.delivery = NewDelivery(e.actors, e.follows, e.fetcher, e.queue, e.opts, nil)
	e.outbox = NewOutbox(e.db, e.actors, e.objects, e.follows, e.delivery, e.opts)
	e.walker = NewCollectionWalker(e.fetcher, e.opts)
	e.dispatcher = NewDispatcher(e.db, e.actors, e.objects, e.follows, e.outbox, e.walker, e.fetcher, e.opts, nil)
	return e
}

func (e *testEnv) createLocal(t *testing.T, username string) *domain.Actor {
	t.Helper()
	actor, err := e.actors.CreateLocal(e.ctx, username, username)
	require.NoError(t, err)
	return actor
}

// seedRemote stores a freshly fetched remote actor without network access.
func (e *testEnv) seedRemote(t *testing.T, id string) *domain.Actor {
	t.Helper()
	u, err := url.Parse(id)
	require.NoError(t, err)
	pair, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)

	now := time.Now().UTC()
	publicID, err := e.db.NextID(e.ctx, "actors", now)
	require.NoError(t, err)
	actor := &domain.Actor{
		ID:            id,
		PublicID:      publicID,
		Type:          "Person",
		Username:      path.Base(u.Path),
		Domain:        u.Host,
		Inbox:         id + "/inbox",
		Outbox:        id + "/outbox",
		Followers:     id + "/followers",
		Following:     id + "/following",
		PublicKeyPem:  pair.Public,
		LastFetchedAt: now,
		CreatedAt:     now,
	}
	created, err := e.db.InsertActor(e.ctx, actor)
	require.NoError(t, err)
	require.True(t, created)
	return actor
}

// handle dispatches activity as if it was signed by its actor.
func (e *testEnv) handle(t *testing.T, activity map[string]any) error {
	t.Helper()
	raw, err := json.Marshal(activity)
	require.NoError(t, err)
	signer, _ := activity["actor"].(string)
	return e.dispatcher.HandleActivity(e.ctx, raw, AuthContext{SignerID: signer})
}

func decodeActivity(t *testing.T, raw []byte) domain.Properties {
	t.Helper()
	var props domain.Properties
	require.NoError(t, json.Unmarshal(raw, &props))
	return props
}
