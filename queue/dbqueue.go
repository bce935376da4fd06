package queue

import (
	"context"
	"sync"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// DBQueue persists messages in the relational store and polls for due ones.
// Messages are leased while processed, so several instances may poll the
// same database.
type DBQueue struct {
	db          *db.DB
	interval    time.Duration
	batchSize   int
	maxAttempts int
	workers     int
	lease       time.Duration
	now         func() time.Time

	// called after each poll with the store clock, used to purge idempotency keys
	onTick func(ctx context.Context, now time.Time)
}

type DBQueueOptions struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Workers      int
}

func NewDBQueue(database *db.DB, opts DBQueueOptions) *DBQueue {
	q := &DBQueue{
		db:          database,
		interval:    opts.PollInterval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		workers:     opts.Workers,
		lease:       5 * time.Minute,
		now:         time.Now,
	}
	if q.interval <= 0 {
		q.interval = 10 * time.Second
	}
	if q.batchSize <= 0 {
		q.batchSize = 50
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 10
	}
	if q.workers <= 0 {
		q.workers = 1
	}
	return q
}

// OnTick registers a function run after every poll.
func (q *DBQueue) OnTick(f func(ctx context.Context, now time.Time)) {
	q.onTick = f
}

func (q *DBQueue) Submit(ctx context.Context, msg *domain.QueueMessage) error {
	_, err := q.db.EnqueueMessage(ctx, msg)
	return err
}

// Run polls the store until ctx is cancelled.
func (q *DBQueue) Run(ctx context.Context, h Handler) error {
	log.Info().Str("component", "queue").Dur("interval", q.interval).Msg("Starting queue worker")

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		q.ProcessOnce(ctx, h)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce handles one batch of due messages and returns how many were claimed.
func (q *DBQueue) ProcessOnce(ctx context.Context, h Handler) int {
	now := q.now()
	items, err := q.db.ClaimMessages(ctx, now, q.lease, q.batchSize)
	if err != nil {
		log.Error().Str("component", "queue").Err(err).Msg("Failed to read queue")
		return 0
	}
	if q.onTick != nil {
		q.onTick(ctx, now)
	}
	if len(items) == 0 {
		return 0
	}
	log.Debug().Str("component", "queue").Int("count", len(items)).Msg("Processing queued messages")

	work := make(chan domain.QueueItem)
	var wg sync.WaitGroup
	for i := 0; i < min(q.workers, len(items)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				q.process(ctx, h, item)
			}
		}()
	}
	for _, item := range items {
		work <- item
	}
	close(work)
	wg.Wait()
	return len(items)
}

func (q *DBQueue) process(ctx context.Context, h Handler, item domain.QueueItem) {
	logger := log.With().Str("component", "queue").Str("id", item.Id).Str("type", string(item.Message.Type)).Logger()

	if err := h.HandleMessage(ctx, &item.Message); err != nil {
		item.Attempts++
		if item.Attempts >= q.maxAttempts {
			logger.Warn().Int("attempts", item.Attempts).Err(err).Msg("Giving up on message")
			if err := q.db.DeleteMessage(ctx, item.Id); err != nil {
				logger.Error().Err(err).Msg("Failed to delete message")
			}
			return
		}
		delay := Backoff(item.Attempts)
		logger.Info().Int("attempts", item.Attempts).Dur("retry_in", delay).Err(err).Msg("Message failed, rescheduling")
		if err := q.db.RescheduleMessage(ctx, item.Id, item.Attempts, q.now().Add(delay)); err != nil {
			logger.Error().Err(err).Msg("Failed to reschedule message")
		}
		return
	}

	if err := q.db.DeleteMessage(ctx, item.Id); err != nil {
		logger.Error().Err(err).Msg("Failed to delete message")
	}
}
