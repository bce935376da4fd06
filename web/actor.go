package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// localActor loads the local actor named by the :actor path parameter and
// answers 404 when there is none.
func (s *Server) localActor(c *gin.Context) (*domain.Actor, bool) {
	username := c.Param("actor")
	actor, err := s.actors.GetLocal(c.Request.Context(), username)
	if errors.Is(err, db.ErrNotFound) {
		notFound(c)
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("username", username).Msg("Failed to read actor")
		c.Status(http.StatusInternalServerError)
		return nil, false
	}
	return actor, true
}

func (s *Server) handleActor(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	renderActivity(c, http.StatusOK, activitypub.ActorDocument(actor))
}

// handleObject serves local objects. Tombstones answer 410.
func (s *Server) handleObject(c *gin.Context) {
	id := "https://" + s.opts.Domain + "/objects/" + c.Param("id")
	obj, err := s.objects.Get(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("id", id).Msg("Failed to read object")
		c.Status(http.StatusInternalServerError)
		return
	}
	if !obj.Meta.Local {
		notFound(c)
		return
	}

	doc := obj.Wire()
	doc["@context"] = activitypub.ActivityStreamsContext
	status := http.StatusOK
	if obj.Type == "Tombstone" {
		status = http.StatusGone
	}
	renderActivity(c, status, doc)
}
