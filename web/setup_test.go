package web

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testDomain = "local.example"
	testKEK    = "test-kek"
)

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

type testServer struct {
	ctx      context.Context
	db       *db.DB
	actors   *activitypub.ActorStore
	objects  *activitypub.ObjectStore
	outbox   *activitypub.Outbox
	queue    *memQueue
	registry *prometheus.Registry
	metrics  *activitypub.Metrics
	server   *Server
	engine   *gin.Engine
}

// newTestServer builds a server on a fresh database. Each configure func
// adjusts the configuration before the engine is built.
func newTestServer(t *testing.T, configure ...func(*util.AppConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open("sqlite", filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(context.Background()))

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.UserKEK = testKEK
	conf.Conf.Federation.ActorRefresh = 24 * time.Hour
	conf.Conf.Federation.BatchSize = 10
	conf.Conf.Federation.InboxRateLimit = 100
	conf.Conf.Federation.MaxBodyBytes = 64 * 1024
	conf.Conf.Metrics.Enabled = true
	for _, f := range configure {
		f(conf)
	}

	opts := activitypub.OptionsFromConfig(conf)
	q := &memQueue{}
	registry := prometheus.NewRegistry()
	metrics := activitypub.NewMetrics(registry)
	fetcher := activitypub.NewFetcher(time.Second)
	actors := activitypub.NewActorStore(database, fetcher, opts)
	objects := activitypub.NewObjectStore(database, actors, fetcher, opts)
	follows := activitypub.NewFollowGraph(database)
	delivery := activitypub.NewDelivery(actors, follows, fetcher, q, opts, metrics)
	outbox := activitypub.NewOutbox(database, actors, objects, follows, delivery, opts)

	srv := NewServer(conf, database, actors, objects, activitypub.NewVerifier(actors), q, metrics, registry)
	t.Cleanup(srv.Close)
	return &testServer{
		ctx:      context.Background(),
		db:       database,
		actors:   actors,
		objects:  objects,
		outbox:   outbox,
		queue:    q,
		registry: registry,
		metrics:  metrics,
		server:   srv,
		engine:   srv.Engine(),
	}
}

func (s *testServer) createLocal(t *testing.T, username string) *domain.Actor {
	t.Helper()
	actor, err := s.actors.CreateLocal(s.ctx, username, username)
	require.NoError(t, err)
	return actor
}

// seedRemote stores a fresh remote actor and returns its signing key.
func (s *testServer) seedRemote(t *testing.T, id string) (*domain.Actor, *rsa.PrivateKey) {
	t.Helper()
	pair, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)
	key, err := activitypub.ParsePrivateKey(pair.Private)
	require.NoError(t, err)

	now := time.Now().UTC()
	publicID, err := s.db.NextID(s.ctx, "actors", now)
	require.NoError(t, err)
	actor := &domain.Actor{
		ID:            id,
		PublicID:      publicID,
		Type:          "Person",
		Username:      "bob",
		Domain:        "remote.example",
		Inbox:         id + "/inbox",
		Followers:     id + "/followers",
		PublicKeyPem:  pair.Public,
		LastFetchedAt: now,
		CreatedAt:     now,
	}
	_, err = s.db.InsertActor(s.ctx, actor)
	require.NoError(t, err)
	return actor, key
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "https://"+testDomain+path, nil)
	req.Header.Set("Accept", activitypub.ContentType)
	return s.do(req)
}

// signedPost builds an inbox POST signed by actor.
func signedPost(t *testing.T, path string, actor *domain.Actor, key *rsa.PrivateKey, activity map[string]any) *http.Request {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", activitypub.ContentType)
	require.NoError(t, activitypub.SignRequest(req, key, actor.KeyID(), body))
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) domain.Properties {
	t.Helper()
	var props domain.Properties
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &props))
	return props
}
