package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/stegofed/activitypub"
	"github.com/deemkeen/stegofed/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const itemsPerPage = 20

// handleOutbox returns an OrderedCollection of the public activities of a
// local actor, read from the activity log.
func (s *Server) handleOutbox(c *gin.Context) {
	actor, ok := s.localActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := s.db.CountOutbox(ctx, actor.ID)
		if err != nil {
			log.Error().Err(err).Str("component", "web").Str("actor", actor.ID).Msg("Failed to count outbox")
			c.Status(http.StatusInternalServerError)
			return
		}
		renderActivity(c, http.StatusOK, orderedCollection(actor.Outbox, total))
		return
	}

	records, err := s.db.ReadLocalActivities(ctx, actor.ID, itemsPerPage+1, (page-1)*itemsPerPage)
	if err != nil {
		log.Error().Err(err).Str("component", "web").Str("actor", actor.ID).Int("page", page).Msg("Failed to read outbox page")
		c.Status(http.StatusInternalServerError)
		return
	}
	hasMore := len(records) > itemsPerPage
	if hasMore {
		records = records[:itemsPerPage]
	}
	renderActivity(c, http.StatusOK, collectionPage(actor.Outbox, page, hasMore, publicActivities(records)))
}

// publicActivities decodes the logged activities addressed to the public
// collection.
func publicActivities(records []domain.ActivityRecord) []any {
	items := make([]any, 0, len(records))
	for _, rec := range records {
		var props domain.Properties
		if err := json.Unmarshal([]byte(rec.RawJSON), &props); err != nil {
			log.Warn().Err(err).Str("component", "web").Str("activity", rec.ActivityURI).Msg("Skipping undecodable activity")
			continue
		}
		if !isPublic(props) {
			continue
		}
		delete(props, "@context")
		items = append(items, props)
	}
	return items
}

func isPublic(props domain.Properties) bool {
	obj := &domain.Object{Properties: props}
	return obj.IsPublic()
}

func orderedCollection(id string, total int) domain.Properties {
	return domain.Properties{
		"@context":   activitypub.ActivityStreamsContext,
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
		"first":      fmt.Sprintf("%s?page=1", id),
	}
}

func collectionPage(id string, page int, hasMore bool, items []any) domain.Properties {
	doc := domain.Properties{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", id, page),
		"type":         "OrderedCollectionPage",
		"partOf":       id,
		"orderedItems": items,
	}
	if hasMore {
		doc["next"] = fmt.Sprintf("%s?page=%d", id, page+1)
	}
	if page > 1 {
		doc["prev"] = fmt.Sprintf("%s?page=%d", id, page-1)
	}
	return doc
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
