package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/db"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleWebfinger answers resource=acct:user@domain queries for local actors.
func (s *Server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	username, host, err := activitypub.ParseHandle(resource)
	if err != nil {
		// profile urls are accepted as well
		var ok bool
		if username, ok = s.opts.LocalUsername(resource); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid resource"})
			return
		}
		host = s.opts.Domain
	}
	if host != s.opts.Domain {
		notFound(c)
		return
	}

	actor, err := s.actors.GetLocal(c.Request.Context(), username)
	if errors.Is(err, db.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("resource", resource).Msg("Webfinger lookup failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(activitypub.NewWebfingerResponse(actor))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, "application/jrd+json; charset=utf-8", body)
}
