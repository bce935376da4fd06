package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/queue"
	"github.com/deemkeen/stegofed/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const activityContentType = "application/activity+json; charset=utf-8"

// Server exposes the federation endpoints of the local actors.
type Server struct {
	conf     *util.AppConfig
	opts     activitypub.Options
	db       *db.DB
	actors   *activitypub.ActorStore
	objects  *activitypub.ObjectStore
	verifier *activitypub.Verifier
	queue    queue.Queue
	metrics  *activitypub.Metrics
	gatherer prometheus.Gatherer

	mu       sync.Mutex
	limiters []*RateLimiter
}

func NewServer(conf *util.AppConfig, database *db.DB, actors *activitypub.ActorStore, objects *activitypub.ObjectStore, verifier *activitypub.Verifier, q queue.Queue, metrics *activitypub.Metrics, gatherer prometheus.Gatherer) *Server {
	return &Server{
		conf:     conf,
		opts:     activitypub.OptionsFromConfig(conf),
		db:       database,
		actors:   actors,
		objects:  objects,
		verifier: verifier,
		queue:    q,
		metrics:  metrics,
		gatherer: gatherer,
	}
}

// Engine builds the gin router.
func (s *Server) Engine() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	g.Use(RateLimitMiddleware(s.newLimiter(rate.Limit(10), 20)))

	inboxRate := s.conf.Conf.Federation.InboxRateLimit
	if inboxRate <= 0 {
		inboxRate = 5
	}
	maxBody := s.conf.Conf.Federation.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	inboxLimiter := RateLimitMiddleware(s.newLimiter(rate.Limit(inboxRate), int(2*inboxRate)))

	g.GET("/.well-known/webfinger", s.handleWebfinger)

	g.GET("/users/:actor", s.handleActor)
	g.GET("/users/:actor/outbox", s.handleOutbox)
	g.GET("/users/:actor/followers", s.handleFollowers)
	g.GET("/users/:actor/following", s.handleFollowing)
	g.GET("/users/:actor/feed", s.handleFeed)
	g.GET("/objects/:id", s.handleObject)

	g.POST("/users/:actor/inbox", inboxLimiter, MaxBytesMiddleware(maxBody), s.handleInbox)
	g.POST("/inbox", inboxLimiter, MaxBytesMiddleware(maxBody), s.handleInbox)

	if s.conf.Conf.Metrics.Enabled && s.gatherer != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return g
}

func (s *Server) newLimiter(r rate.Limit, b int) *RateLimiter {
	rl := NewRateLimiter(r, b)
	s.mu.Lock()
	s.limiters = append(s.limiters, rl)
	s.mu.Unlock()
	return rl
}

// Close releases the rate limiters of every engine built by s.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rl := range s.limiters {
		rl.Close()
	}
	s.limiters = nil
}

// HTTPServer wraps the router in a server listening on the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func renderActivity(c *gin.Context, status int, doc any) {
	body, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Str("component", "web").Msg("Failed to marshal document")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, activityContentType, body)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}
