package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/queue"
	"github.com/deemkeen/stegofed/util"
	"github.com/deemkeen/stegofed/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// instanceActor signs outgoing GETs when signed fetch is enabled.
const instanceActor = "instance"

// app holds the wired federation components.
type app struct {
	conf       *util.AppConfig
	db         *db.DB
	registry   *prometheus.Registry
	metrics    *activitypub.Metrics
	fetcher    *activitypub.Fetcher
	actors     *activitypub.ActorStore
	objects    *activitypub.ObjectStore
	follows    *activitypub.FollowGraph
	delivery   *activitypub.Delivery
	outbox     *activitypub.Outbox
	dispatcher *activitypub.Dispatcher
	worker     *activitypub.Worker

	queue    queue.Queue
	dbQueue  *queue.DBQueue
	river    *queue.RiverQueue
	verifier *activitypub.Verifier
}

func newApp(ctx context.Context, conf *util.AppConfig) (*app, error) {
	database, err := db.Open(conf.Conf.Database.Driver, conf.Conf.Database.Dsn)
	if err != nil {
		return nil, err
	}
	if conf.Conf.IdSalt != "" {
		database.SetIDSalt([]byte(conf.Conf.IdSalt))
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}

	a := &app{conf: conf, db: database, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = activitypub.NewMetrics(a.registry)

	fed := conf.Conf.Federation
	opts := activitypub.OptionsFromConfig(conf)

	// the worker is wired after the queue it consumes from
	handler := queue.HandlerFunc(func(ctx context.Context, msg *domain.QueueMessage) error {
		return a.worker.HandleMessage(ctx, msg)
	})
	if err := a.setupQueue(ctx, handler); err != nil {
		database.Close()
		return nil, err
	}

	a.fetcher = activitypub.NewFetcher(fed.FetchTimeout)
	a.actors = activitypub.NewActorStore(database, a.fetcher, opts)
	a.objects = activitypub.NewObjectStore(database, a.actors, a.fetcher, opts)
	a.follows = activitypub.NewFollowGraph(database)
	a.delivery = activitypub.NewDelivery(a.actors, a.follows, activitypub.NewFetcher(fed.DeliveryTimeout), a.queue, opts, a.metrics)
	a.outbox = activitypub.NewOutbox(database, a.actors, a.objects, a.follows, a.delivery, opts)
	walker := activitypub.NewCollectionWalker(a.fetcher, opts)
	a.dispatcher = activitypub.NewDispatcher(database, a.actors, a.objects, a.follows, a.outbox, walker, a.fetcher, opts, a.metrics)
	a.worker = activitypub.NewWorker(a.dispatcher, a.delivery, a.actors)
	a.verifier = activitypub.NewVerifier(a.actors)

	if fed.SignedFetch {
		if err := a.enableSignedFetch(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) setupQueue(ctx context.Context, h queue.Handler) error {
	qc := a.conf.Conf.Queue
	switch qc.Backend {
	case "", "db":
		a.dbQueue = queue.NewDBQueue(a.db, queue.DBQueueOptions{
			PollInterval: qc.PollInterval,
			BatchSize:    qc.BatchSize,
			MaxAttempts:  qc.MaxAttempts,
			Workers:      qc.Workers,
		})
		a.dbQueue.OnTick(a.purgeIdempotencyKeys)
		a.queue = a.dbQueue
	case "river":
		if a.db.Dialect().Name() != "postgres" {
			return fmt.Errorf("queue backend river requires the postgres driver, got %s", a.db.Dialect().Name())
		}
		rq, err := queue.NewRiverQueue(ctx, a.conf.Conf.Database.Dsn, h, queue.RiverOptions{
			Workers:     qc.Workers,
			MaxAttempts: qc.MaxAttempts,
		})
		if err != nil {
			return err
		}
		a.river = rq
		a.queue = rq
	default:
		return fmt.Errorf("unknown queue backend %q", qc.Backend)
	}
	return nil
}

func (a *app) purgeIdempotencyKeys(ctx context.Context, now time.Time) {
	n, err := a.db.PurgeIdempotencyKeys(ctx, now)
	if err != nil {
		log.Warn().Err(err).Str("component", "queue").Msg("Failed to purge idempotency keys")
		return
	}
	if n > 0 {
		log.Debug().Str("component", "queue").Int64("count", n).Msg("Purged idempotency keys")
	}
}

// enableSignedFetch signs every outgoing GET with the instance actor.
func (a *app) enableSignedFetch(ctx context.Context) error {
	actor, err := a.actors.GetLocal(ctx, instanceActor)
	if errors.Is(err, db.ErrNotFound) {
		actor, err = a.actors.CreateLocal(ctx, instanceActor, util.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to load instance actor: %w", err)
	}
	key, err := a.actors.SigningKey(actor)
	if err != nil {
		return fmt.Errorf("failed to unwrap instance key: %w", err)
	}
	a.fetcher.SignWith(actor.KeyID(), key)
	return nil
}

// runWorkers processes the queue until ctx is cancelled.
func (a *app) runWorkers(ctx context.Context) error {
	var err error
	if a.river != nil {
		err = a.river.Run(ctx)
	} else {
		err = a.dbQueue.Run(ctx, a.worker)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) server() *web.Server {
	return web.NewServer(a.conf, a.db, a.actors, a.objects, a.verifier, a.queue, a.metrics, a.registry)
}

// localActor loads a local actor by username.
func (a *app) localActor(ctx context.Context, username string) (*domain.Actor, error) {
	actor, err := a.actors.GetLocal(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("no local actor %q", username)
	}
	return actor, err
}

// resolve accepts an actor url or a user@domain handle.
func (a *app) resolve(ctx context.Context, ref string) (*domain.Actor, error) {
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return a.actors.Resolve(ctx, ref)
	}
	return a.actors.ResolveHandle(ctx, ref)
}

func (a *app) close() {
	if a.river != nil {
		a.river.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
