package web

import (
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bobID = "https://remote.example/users/bob"

func followOf(actor, object string) map[string]any {
	return map[string]any{
		"@context": activitypub.ActivityStreamsContext,
		"id":       actor + "/follows/1",
		"type":     "Follow",
		"actor":    actor,
		"object":   object,
	}
}

func TestWebfinger(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")

	w := s.get("/.well-known/webfinger?resource=acct:alice@" + testDomain)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/jrd+json")
	doc := decode(t, w)
	assert.Equal(t, "acct:alice@"+testDomain, doc["subject"])
	assert.Contains(t, w.Body.String(), alice.ID)

	tests := []struct {
		name     string
		resource string
		want     int
	}{
		{"profile url", alice.ID, http.StatusOK},
		{"unknown user", "acct:nobody@" + testDomain, http.StatusNotFound},
		{"other domain", "acct:alice@elsewhere.example", http.StatusNotFound},
		{"garbage", "alice", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.get("/.well-known/webfinger?resource="+tt.resource).Code)
		})
	}
}

func TestActorDocument(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")

	w := s.get("/users/alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), activitypub.ContentType)

	doc := decode(t, w)
	assert.Equal(t, alice.ID, doc["id"])
	assert.Equal(t, alice.Inbox, doc["inbox"])
	key := domain.Properties(doc["publicKey"].(map[string]any))
	assert.Equal(t, alice.KeyID(), key.String("id"))
	assert.Contains(t, key.String("publicKeyPem"), "PUBLIC KEY")

	assert.Equal(t, http.StatusNotFound, s.get("/users/nobody").Code)
}

func TestInboxQueuesSignedActivity(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")
	bob, key := s.seedRemote(t, bobID)

	w := s.do(signedPost(t, "/users/alice/inbox", bob, key, followOf(bob.ID, alice.ID)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	msgs := s.queue.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageInbox, msgs[0].Type)
	assert.Equal(t, bob.ID, msgs[0].ActorID)
	assert.Contains(t, string(msgs[0].Activity), `"Follow"`)
}

func TestSharedInboxQueuesSignedActivity(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")
	bob, key := s.seedRemote(t, bobID)

	w := s.do(signedPost(t, "/inbox", bob, key, followOf(bob.ID, alice.ID)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	msgs := s.queue.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, bob.ID, msgs[0].ActorID)
	assert.Empty(t, msgs[0].Credentials)
}

func TestInboxRejectsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")
	bob, key := s.seedRemote(t, bobID)

	t.Run("unsigned", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+"/users/alice/inbox",
			strings.NewReader(`{"type":"Follow","actor":"`+bob.ID+`","object":"`+alice.ID+`"}`))
		assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedPost(t, "/users/alice/inbox", bob, key, followOf(bob.ID, alice.ID))
		req.Body = http.NoBody
		req.ContentLength = 0
		assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
	})

	t.Run("actor is not the signer", func(t *testing.T) {
		activity := followOf("https://remote.example/users/mallory", alice.ID)
		assert.Equal(t, http.StatusUnauthorized, s.do(signedPost(t, "/users/alice/inbox", bob, key, activity)).Code)
	})

	assert.Empty(t, s.queue.messages())
	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.SignatureFailures))
}

func TestInboxOfUnknownUser(t *testing.T) {
	s := newTestServer(t)
	bob, key := s.seedRemote(t, bobID)

	w := s.do(signedPost(t, "/users/nobody/inbox", bob, key, followOf(bob.ID, "https://"+testDomain+"/users/nobody")))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.queue.messages())
}

func TestInboxRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	s.createLocal(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+"/users/alice/inbox",
		strings.NewReader(strings.Repeat("x", 128*1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, s.do(req).Code)
}

func TestOutboxAndObjects(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")

	note, err := s.outbox.PublishNote(s.ctx, alice, "hello fediverse", "")
	require.NoError(t, err)

	w := s.get("/users/alice/outbox")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)
	assert.Equal(t, "OrderedCollection", doc["type"])
	assert.Equal(t, float64(1), doc["totalItems"])
	assert.Equal(t, alice.Outbox+"?page=1", doc["first"])

	w = s.get("/users/alice/outbox?page=1")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	items := page["orderedItems"].([]any)
	require.Len(t, items, 1)
	create := domain.Properties(items[0].(map[string]any))
	assert.Equal(t, "Create", create.String("type"))
	assert.NotContains(t, page, "next")

	w = s.get("/objects/" + path.Base(note.ID))
	require.Equal(t, http.StatusOK, w.Code)
	obj := decode(t, w)
	assert.Equal(t, note.ID, obj["id"])
	assert.Equal(t, "hello fediverse", obj["content"])

	assert.Equal(t, http.StatusNotFound, s.get("/objects/missing").Code)
}

func TestFollowerCollections(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")
	bob, _ := s.seedRemote(t, bobID)

	_, err := s.db.InsertFollow(s.ctx, &domain.Follow{
		ActorID:       bob.ID,
		TargetActorID: alice.ID,
		State:         domain.FollowAccepted,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	doc := decode(t, s.get("/users/alice/followers"))
	assert.Equal(t, float64(1), doc["totalItems"])

	page := decode(t, s.get("/users/alice/followers?page=1"))
	assert.Equal(t, []any{bob.ID}, page["orderedItems"])

	doc = decode(t, s.get("/users/alice/following"))
	assert.Equal(t, float64(0), doc["totalItems"])
}

func TestFeed(t *testing.T) {
	s := newTestServer(t)
	alice := s.createLocal(t, "alice")

	_, err := s.outbox.PublishNote(s.ctx, alice, "first post", "")
	require.NoError(t, err)

	w := s.get("/users/alice/feed")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/rss+xml")
	body := w.Body.String()
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "first post")
	assert.Equal(t, 1, strings.Count(body, "<item>"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.metrics.SignatureFailure()

	w := s.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stegofed_signature_failures_total 1")
}

func TestParsePageParam(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty string", "", 0},
		{"valid page 1", "1", 1},
		{"valid page 5", "5", 5},
		{"invalid string", "abc", 0},
		{"negative number", "-1", 0},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePageParam(tt.input))
		})
	}
}
