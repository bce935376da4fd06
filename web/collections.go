package web

import (
	"context"
	"net/http"

	"github.com/deemkeen/stegofed/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type followPager struct {
	count func(ctx context.Context, actorID string) (int, error)
	read  func(ctx context.Context, actorID string, limit, offset int) ([]domain.Follow, error)
	item  func(f domain.Follow) string
}

func (s *Server) handleFollowers(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	s.serveFollows(c, actor.Followers, actor.ID, followPager{
		count: s.db.CountFollowers,
		read:  s.db.ReadFollowers,
		item:  func(f domain.Follow) string { return f.ActorID },
	})
}

func (s *Server) handleFollowing(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	s.serveFollows(c, actor.Following, actor.ID, followPager{
		count: s.db.CountFollowing,
		read:  s.db.ReadFollowing,
		item:  func(f domain.Follow) string { return f.TargetActorID },
	})
}

// serveFollows renders the accepted follow edges of actorID as an OrderedCollection.
func (s *Server) serveFollows(c *gin.Context, collectionID, actorID string, p followPager) {
	ctx := c.Request.Context()
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := p.count(ctx, actorID)
		if err != nil {
			log.Error().Err(err).Str("component", "web").Str("collection", collectionID).Msg("Failed to count collection")
			c.Status(http.StatusInternalServerError)
			return
		}
		renderActivity(c, http.StatusOK, orderedCollection(collectionID, total))
		return
	}

	follows, err := p.read(ctx, actorID, itemsPerPage+1, (page-1)*itemsPerPage)
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("collection", collectionID).Int("page", page).Msg("Failed to read collection page")
		c.Status(http.StatusInternalServerError)
		return
	}
	hasMore := len(follows) > itemsPerPage
	if hasMore {
		follows = follows[:itemsPerPage]
	}
	items := make([]any, 0, len(follows))
	for _, f := range follows {
		items = append(items, p.item(f))
	}
	renderActivity(c, http.StatusOK, collectionPage(collectionID, page, hasMore, items))
}
