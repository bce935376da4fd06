package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"
)

// InboxArgs carries an inbound activity to the dispatcher.
type InboxArgs struct {
	Message domain.QueueMessage `json:"message"`
}

func (InboxArgs) Kind() string { return "federation_inbox" }

// DeliverArgs carries one outbound delivery.
type DeliverArgs struct {
	Message domain.QueueMessage `json:"message"`
}

func (DeliverArgs) Kind() string { return "federation_deliver" }

type inboxWorker struct {
	river.WorkerDefaults[InboxArgs]
	handler Handler
}

func (w *inboxWorker) Work(ctx context.Context, job *river.Job[InboxArgs]) error {
	return w.handler.HandleMessage(ctx, &job.Args.Message)
}

type deliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	handler Handler
}

func (w *deliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	return w.handler.HandleMessage(ctx, &job.Args.Message)
}

// backoffPolicy applies the same schedule as DBQueue.
type backoffPolicy struct{}

func (backoffPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(Backoff(job.Attempt))
}

// RiverQueue runs the queue on River over Postgres.
type RiverQueue struct {
	client      *river.Client[pgx.Tx]
	pool        *pgxpool.Pool
	maxAttempts int
}

type RiverOptions struct {
	Workers     int
	MaxAttempts int
}

// NewRiverQueue connects to databaseURL, applies River's schema migrations
// and prepares a client whose workers pass messages to h.
func NewRiverQueue(ctx context.Context, databaseURL string, h Handler, opts RiverOptions) (*RiverQueue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate river schema: %w", err)
	}

	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &inboxWorker{handler: h})
	river.AddWorker(workers, &deliverWorker{handler: h})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.Workers},
		},
		Workers:     workers,
		MaxAttempts: opts.MaxAttempts,
		RetryPolicy: backoffPolicy{},
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &RiverQueue{client: client, pool: pool, maxAttempts: opts.MaxAttempts}, nil
}

func (q *RiverQueue) Submit(ctx context.Context, msg *domain.QueueMessage) error {
	var args river.JobArgs
	switch msg.Type {
	case domain.MessageInbox:
		args = InboxArgs{Message: *msg}
	case domain.MessageDeliver:
		args = DeliverArgs{Message: *msg}
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if _, err := q.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: q.maxAttempts}); err != nil {
		return fmt.Errorf("failed to queue %s job: %w", msg.Type, err)
	}
	return nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *RiverQueue) Run(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("component", "queue").Msg("River workers started")
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return q.client.Stop(stopCtx)
}

func (q *RiverQueue) Close() {
	q.pool.Close()
}
