package activitypub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteServer serves a single actor, its webfinger document and inbox.
type remoteServer struct {
	*httptest.Server
	actorID   string
	publicPem string
	name      atomic.Value
	fetches   atomic.Int32
	gone      atomic.Bool

	mu       sync.Mutex
	received []*http.Request
	bodies   [][]byte
}

func newRemoteServer(t *testing.T) *remoteServer {
	t.Helper()
	pair, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)

	rs := &remoteServer{publicPem: pair.Public}
	rs.name.Store("<b>Bob</b> Builder")
	mux := http.NewServeMux()
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	rs.actorID = rs.URL + "/users/bob"

	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		rs.fetches.Add(1)
		if rs.gone.Load() {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		json.NewEncoder(w).Encode(map[string]any{
			"@context":          ActivityStreamsContext,
			"id":                rs.actorID,
			"type":              "Person",
			"preferredUsername": "bob",
			"name":              rs.name.Load(),
			"summary":           "<p>I <script>alert(1)</script>build</p>",
			"inbox":             rs.actorID + "/inbox",
			"outbox":            rs.actorID + "/outbox",
			"followers":         rs.actorID + "/followers",
			"following":         rs.actorID + "/following",
			"endpoints":         map[string]any{"sharedInbox": rs.URL + "/inbox"},
			"icon":              map[string]any{"type": "Image", "url": rs.URL + "/avatar.png"},
			"publicKey": map[string]any{
				"id":           rs.actorID + "#main-key",
				"owner":        rs.actorID,
				"publicKeyPem": rs.publicPem,
			},
		})
	})
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Query().Get("resource"), "acct:bob@") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/jrd+json")
		json.NewEncoder(w).Encode(WebfingerResponse{
			Subject: r.URL.Query().Get("resource"),
			Links:   []WebfingerLink{{Rel: "self", Type: ContentType, Href: rs.actorID}},
		})
	})
	inbox := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.received = append(rs.received, r)
		rs.bodies = append(rs.bodies, body)
		rs.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
	mux.HandleFunc("/users/bob/inbox", inbox)
	mux.HandleFunc("/inbox", inbox)
	return rs
}

// inboxPaths lists the request paths of received deliveries.
func (rs *remoteServer) inboxPaths() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	paths := make([]string, len(rs.received))
	for i, r := range rs.received {
		paths[i] = r.URL.Path
	}
	return paths
}

func (rs *remoteServer) deliveries() [][]byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([][]byte(nil), rs.bodies...)
}

func TestResolveFetchesAndSanitizes(t *testing.T) {
	e := newTestEnv(t)
	rs := newRemoteServer(t)

	actor, err := e.actors.Resolve(e.ctx, rs.actorID)
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", actor.DisplayName)
	assert.NotContains(t, actor.Summary, "<")
	assert.NotContains(t, actor.Summary, "alert")
	assert.Equal(t, rs.URL+"/inbox", actor.SharedInbox)
	assert.Equal(t, rs.URL+"/avatar.png", actor.IconURL)
	assert.NotEmpty(t, actor.PublicID)
	assert.False(t, actor.Local)

	again, err := e.actors.Resolve(e.ctx, rs.actorID)
	require.NoError(t, err)
	assert.Equal(t, actor.PublicID, again.PublicID)
	assert.Equal(t, int32(1), rs.fetches.Load())

	byPublicID, err := e.actors.GetByPublicID(e.ctx, actor.PublicID)
	require.NoError(t, err)
	assert.Equal(t, rs.actorID, byPublicID.ID)
}

func TestResolveConcurrentConverges(t *testing.T) {
	e := newTestEnv(t)
	rs := newRemoteServer(t)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, err := e.actors.Resolve(e.ctx, rs.actorID)
			if err == nil {
				ids[i] = actor.PublicID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.NotEmpty(t, ids[0])
}

func TestResolveRefreshesStaleActor(t *testing.T) {
	e := newTestEnv(t)
	rs := newRemoteServer(t)

	actor, err := e.actors.Resolve(e.ctx, rs.actorID)
	require.NoError(t, err)

	rs.name.Store("Robert")
	e.actors.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	refreshed, err := e.actors.Resolve(e.ctx, rs.actorID)
	require.NoError(t, err)
	assert.Equal(t, "Robert", refreshed.DisplayName)
	assert.Equal(t, actor.PublicID, refreshed.PublicID)

	// a failing refresh falls back to the cached copy
	rs.Close()
	e.actors.now = func() time.Time { return time.Now().Add(50 * time.Hour) }
	stale, err := e.actors.Resolve(e.ctx, rs.actorID)
	require.NoError(t, err)
	assert.Equal(t, "Robert", stale.DisplayName)
}

func TestResolveGoneActor(t *testing.T) {
	e := newTestEnv(t)
	rs := newRemoteServer(t)
	rs.gone.Store(true)

	_, err := e.actors.Resolve(e.ctx, rs.actorID)
	assert.ErrorIs(t, err, ErrActorGone)

	_, err = e.actors.Resolve(e.ctx, "https://local.example/users/nobody")
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolveHandle(t *testing.T) {
	e := newTestEnv(t)
	rs := newRemoteServer(t)
	alice := e.createLocal(t, "alice")

	host := strings.TrimPrefix(rs.URL, "http://")
	actor, err := e.actors.ResolveHandle(e.ctx, "@bob@"+host)
	require.NoError(t, err)
	assert.Equal(t, rs.actorID, actor.ID)

	local, err := e.actors.ResolveHandle(e.ctx, "acct:alice@local.example")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, local.ID)

	_, err = e.actors.ResolveHandle(e.ctx, "nobody@"+host)
	assert.ErrorIs(t, err, ErrUnresolvable)

	_, err = e.actors.ResolveHandle(e.ctx, "not-a-handle")
	assert.Error(t, err)

	// known handles resolve from the store
	rs.Close()
	cached, err := e.actors.ResolveHandle(e.ctx, "bob@"+host)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, cached.ID)
}

func TestCreateLocalActor(t *testing.T) {
	e := newTestEnv(t)
	alice := e.createLocal(t, "alice")

	assert.Equal(t, "https://local.example/users/alice", alice.ID)
	assert.Equal(t, "https://local.example/inbox", alice.SharedInbox)
	assert.True(t, alice.Local)

	stored, err := e.actors.GetLocal(e.ctx, "alice")
	require.NoError(t, err)
	key, err := e.actors.SigningKey(stored)
	require.NoError(t, err)
	pub, err := ParsePublicKey(stored.PublicKeyPem)
	require.NoError(t, err)
	assert.Equal(t, 0, key.PublicKey.N.Cmp(pub.N))

	_, err = e.actors.CreateLocal(e.ctx, "alice", "again")
	assert.Error(t, err)
	_, err = e.actors.CreateLocal(e.ctx, "no spaces", "")
	assert.Error(t, err)

	doc := ActorDocument(stored)
	assert.Equal(t, alice.KeyID(), doc["publicKey"].(map[string]any)["id"])

	wf := NewWebfingerResponse(stored)
	assert.Equal(t, "acct:alice@local.example", wf.Subject)
}

func TestParseHandle(t *testing.T) {
	user, host, err := ParseHandle("@Bob@B.Example")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user)
	assert.Equal(t, "b.example", host)

	_, _, err = ParseHandle("bob")
	assert.Error(t, err)
	_, _, err = ParseHandle("bob@a@b")
	assert.Error(t, err)
}
