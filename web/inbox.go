package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleInbox authenticates an inbound activity and queues it for the
// dispatcher. It serves both the per-actor and the shared inbox.
func (s *Server) handleInbox(c *gin.Context) {
	ctx := c.Request.Context()
	logger := log.With().Str("component", "inbox").Str("path", c.Request.URL.Path).Logger()

	recipient := c.Param("actor")
	if recipient != "" {
		if _, ok := s.localActor(c); !ok {
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		logger.Warn().Err(err).Msg("Failed to read request body")
		c.Status(http.StatusBadRequest)
		return
	}

	signer, err := s.verifier.Verify(ctx, c.Request, body)
	if errors.Is(err, activitypub.ErrActorGone) {
		// deletes of gone actors are signed with keys we can no longer fetch
		logger.Info().Err(err).Msg("Dropping activity of gone actor")
		c.Status(http.StatusAccepted)
		return
	}
	if err != nil {
		s.metrics.SignatureFailure()
		logger.Warn().Err(err).Msg("Rejecting unauthenticated activity")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var head struct {
		Actor json.RawMessage `json:"actor"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		logger.Warn().Err(err).Msg("Rejecting malformed activity")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed activity"})
		return
	}
	if actorID := activityActor(head.Actor); actorID != signer {
		logger.Warn().Str("signer", signer).Str("actor", actorID).Msg("Activity actor does not match signer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "actor does not match signer"})
		return
	}

	msg := &domain.QueueMessage{
		Type:     domain.MessageInbox,
		ActorID:  signer,
		Activity: body,
	}
	if err := s.queue.Submit(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("Failed to queue activity")
		c.Status(http.StatusInternalServerError)
		return
	}
	s.metrics.Submitted(string(domain.MessageInbox))
	c.Status(http.StatusOK)
}

// activityActor reads the actor of an activity given either as an id or
// an embedded object.
func activityActor(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
