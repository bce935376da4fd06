package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
	"github.com/deemkeen/stegofed/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
	"github.com/rs/zerolog/log"
)

const feedSize = 50

func (s *Server) handleFeed(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	rss, err := s.GetRSS(c.Request.Context(), actor)
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("actor", actor.ID).Msg("Failed to render feed")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

// GetRSS renders the public posts of a local actor as an RSS feed.
func (s *Server) GetRSS(ctx context.Context, actor *domain.Actor) (string, error) {
	entries, err := s.db.ReadOutbox(ctx, actor.ID, feedSize)
	if err != nil {
		return "", fmt.Errorf("error retrieving outbox of %s: %w", actor.Username, err)
	}

	author := &feeds.Author{Name: displayName(actor), Email: actor.Acct()}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s (@%s)", displayName(actor), actor.Acct()),
		Link:        &feeds.Link{Href: actor.ID},
		Description: util.StripMarkup(actor.Summary),
		Author:      author,
		Created:     time.Now(),
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if seen[entry.ObjectID] {
			continue
		}
		seen[entry.ObjectID] = true

		obj, err := s.objects.Get(ctx, entry.ObjectID)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !obj.IsPublic() || obj.Type == "Tombstone" {
			continue
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      obj.OriginalID(),
			Title:   entry.PublishedDate.UTC().Format(time.RFC1123),
			Link:    &feeds.Link{Href: obj.OriginalID()},
			Content: obj.Properties.String("content"),
			Author:  author,
			Created: entry.PublishedDate,
		})
	}

	return feed.ToRss()
}

func displayName(actor *domain.Actor) string {
	if actor.DisplayName != "" {
		return actor.DisplayName
	}
	return actor.Username
}
