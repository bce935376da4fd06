package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/deemkeen/stegofed/db"
	"github.com/deemkeen/stegofed/domain"
)

// FollowGraph holds the follow edges between actors.
//
//	none --Follow--> pending --Accept--> accepted
//	pending|accepted --Undo--> none
type FollowGraph struct {
	db *db.DB
}

func NewFollowGraph(database *db.DB) *FollowGraph {
	return &FollowGraph{db: database}
}

// AddFollowing creates a pending edge from actor to target. An existing
// edge is left as is and false is returned.
func (g *FollowGraph) AddFollowing(ctx context.Context, actor, target *domain.Actor, uri string) (bool, error) {
	return g.db.InsertFollow(ctx, &domain.Follow{
		ActorID:         actor.ID,
		TargetActorID:   target.ID,
		TargetActorAcct: target.Acct(),
		URI:             uri,
		State:           domain.FollowPending,
		CreatedAt:       time.Now().UTC(),
	})
}

// Accept moves an edge to accepted. Without an edge it does nothing.
func (g *FollowGraph) Accept(ctx context.Context, actorID, targetID string) (bool, error) {
	return g.db.AcceptFollow(ctx, actorID, targetID)
}

// Remove deletes the edge, whatever its state.
func (g *FollowGraph) Remove(ctx context.Context, actorID, targetID string) (bool, error) {
	return g.db.DeleteFollow(ctx, actorID, targetID)
}

func (g *FollowGraph) State(ctx context.Context, actorID, targetID string) (domain.FollowState, error) {
	f, err := g.db.ReadFollow(ctx, actorID, targetID)
	if errors.Is(err, db.ErrNotFound) {
		return domain.FollowNone, nil
	}
	if err != nil {
		return domain.FollowNone, err
	}
	return f.State, nil
}

// Followers returns a page of accepted followers of targetID.
func (g *FollowGraph) Followers(ctx context.Context, targetID string, limit, offset int) ([]domain.Follow, error) {
	return g.db.ReadFollowers(ctx, targetID, limit, offset)
}

// Following returns a page of actors actorID follows.
func (g *FollowGraph) Following(ctx context.Context, actorID string, limit, offset int) ([]domain.Follow, error) {
	return g.db.ReadFollowing(ctx, actorID, limit, offset)
}
