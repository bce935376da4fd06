// Package queue decouples the fast federation request path from slow
// network work. Messages are submitted by the web layer and the delivery
// engine and consumed by a Handler.
package queue

import (
	"context"
	"time"

	"github.com/deemkeen/stegofed/domain"
)

// Queue accepts messages for asynchronous processing.
type Queue interface {
	Submit(ctx context.Context, msg *domain.QueueMessage) error
}

// Handler consumes messages. A returned error makes the queue redeliver
// the message later.
type Handler interface {
	HandleMessage(ctx context.Context, msg *domain.QueueMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *domain.QueueMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *domain.QueueMessage) error {
	return f(ctx, msg)
}

var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Backoff returns the delay before retry number attempts (1-based).
func Backoff(attempts int) time.Duration {
	i := min(max(attempts-1, 0), len(backoffMinutes)-1)
	return time.Duration(backoffMinutes[i]) * time.Minute
}
