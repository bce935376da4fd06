package activitypub

import (
	"context"
	"fmt"

	"github.com/deemkeen/stegofed/domain"
	"github.com/rs/zerolog/log"
)

// CollectionWalker pages through remote collections with hard caps on the
// number of pages and items, handing items out in small batches.
type CollectionWalker struct {
	fetch     *Fetcher
	maxPages  int
	maxItems  int
	batchSize int
}

func NewCollectionWalker(fetcher *Fetcher, opts Options) *CollectionWalker {
	w := &CollectionWalker{
		fetch:     fetcher,
		maxPages:  opts.MaxCollectionPages,
		maxItems:  opts.MaxCollectionItems,
		batchSize: opts.BatchSize,
	}
	if w.maxPages <= 0 {
		w.maxPages = 10
	}
	if w.maxItems <= 0 {
		w.maxItems = 500
	}
	if w.batchSize <= 0 {
		w.batchSize = 20
	}
	return w
}

// Walk calls fn with batches of item ids of the collection at url and
// returns the number of items visited.
func (w *CollectionWalker) Walk(ctx context.Context, url string, fn func(ctx context.Context, batch []string) error) (int, error) {
	doc, err := w.fetch.GetDocument(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("%w: collection %s: %v", ErrUnresolvable, url, err)
	}

	visited := 0
	batch := make([]string, 0, w.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := fn(ctx, batch)
		batch = batch[:0]
		return err
	}

	page := doc
	next := ""
	// items may sit on the collection itself or behind "first"
	if items := collectionItems(doc); len(items) == 0 {
		page, next = nil, doc.String("first")
		if first, ok := doc["first"].(map[string]any); ok {
			page, next = domain.Properties(first), ""
		}
	}

	for pages := 0; pages < w.maxPages; pages++ {
		if page == nil {
			if next == "" {
				break
			}
			page, err = w.fetch.GetDocument(ctx, next)
			if err != nil {
				log.Warn().Str("component", "collections").Str("page", next).Err(err).Msg("Stopping collection walk")
				break
			}
		}

		for _, id := range collectionItems(page) {
			if visited >= w.maxItems {
				return visited, flush()
			}
			batch = append(batch, id)
			visited++
			if len(batch) == w.batchSize {
				if err := flush(); err != nil {
					return visited, err
				}
			}
		}

		next = page.String("next")
		page = nil
		if err := ctx.Err(); err != nil {
			return visited, err
		}
	}
	return visited, flush()
}

func collectionItems(page domain.Properties) []string {
	if items := page.Strings("orderedItems"); len(items) > 0 {
		return items
	}
	return page.Strings("items")
}
