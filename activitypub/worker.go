package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// Worker consumes queue messages: inbound activities go to the dispatcher,
// deliveries are signed and posted.
type Worker struct {
	dispatcher *Dispatcher
	delivery   *Delivery
	actors     *ActorStore
}

func NewWorker(dispatcher *Dispatcher, delivery *Delivery, actors *ActorStore) *Worker {
	return &Worker{dispatcher: dispatcher, delivery: delivery, actors: actors}
}

// HandleMessage implements queue.Handler. Errors that redelivery cannot fix
// are logged and swallowed.
func (w *Worker) HandleMessage(ctx context.Context, msg *domain.QueueMessage) error {
	switch msg.Type {
	case domain.MessageInbox:
		err := w.dispatcher.HandleActivity(ctx, msg.Activity, AuthContext{SignerID: msg.ActorID})
		if errors.Is(err, ErrAuthorizationMismatch) {
			return nil
		}
		return err
	case domain.MessageDeliver:
		return w.deliver(ctx, msg)
	default:
		log.Warn().Str("component", "queue").Str("type", string(msg.Type)).Msg("Dropping message of unknown type")
		return nil
	}
}

func (w *Worker) deliver(ctx context.Context, msg *domain.QueueMessage) error {
	logger := log.With().
		Str("component", "delivery").
		Str("from", msg.ActorID).
		Str("to", msg.ToActorID).
		Logger()

	from, err := w.actors.Get(ctx, msg.ActorID)
	if err != nil {
		return fmt.Errorf("failed to read sender %s: %w", msg.ActorID, err)
	}
	if !from.Local {
		logger.Warn().Msg("Dropping delivery from a remote actor")
		return nil
	}
	if msg.Credentials != "" && msg.Credentials != from.KeyID() {
		logger.Warn().Str("key", msg.Credentials).Msg("Dropping delivery signed with an unknown key")
		return nil
	}
	key, err := w.actors.SigningKey(from)
	if err != nil {
		logger.Error().Err(err).Msg("Dropping delivery, signing key unavailable")
		return nil
	}

	to, err := w.actors.Resolve(ctx, msg.ToActorID)
	if errors.Is(err, ErrActorGone) {
		logger.Info().Msg("Dropping delivery to a deleted actor")
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Recipient != "" {
		// shared inbox chosen at fan-out
		to = &domain.Actor{ID: to.ID, Inbox: msg.Recipient}
	}
	return w.delivery.DeliverToActor(ctx, key, from, to, msg.Activity)
}
