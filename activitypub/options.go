package activitypub

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/stegofed/util"
	"github.com/google/uuid"
)

// Options are the federation settings shared by the core components.
type Options struct {
	Domain string
	// Scheme used for discovery requests to remote hosts.
	Scheme             string
	UserKEK            string
	ActorRefresh       time.Duration
	MaxCollectionPages int
	MaxCollectionItems int
	BatchSize          int
	IdempotencyTTL     time.Duration
}

func OptionsFromConfig(conf *util.AppConfig) Options {
	fed := conf.Conf.Federation
	return Options{
		Domain:             conf.Conf.SslDomain,
		Scheme:             "https",
		UserKEK:            conf.Conf.UserKEK,
		ActorRefresh:       fed.ActorRefresh,
		MaxCollectionPages: fed.MaxCollectionPages,
		MaxCollectionItems: fed.MaxCollectionItems,
		BatchSize:          fed.BatchSize,
		IdempotencyTTL:     fed.IdempotencyTTL,
	}
}

func (o Options) baseURL() string {
	return "https://" + o.Domain
}

// ActorURL is the canonical id of a local actor.
func (o Options) ActorURL(username string) string {
	return fmt.Sprintf("%s/users/%s", o.baseURL(), username)
}

func (o Options) newObjectURL() string {
	return fmt.Sprintf("%s/objects/%s", o.baseURL(), uuid.NewString())
}

func (o Options) newActivityURL() string {
	return fmt.Sprintf("%s/activities/%s", o.baseURL(), uuid.NewString())
}

// IsLocal reports whether id lives on this server.
func (o Options) IsLocal(id string) bool {
	return strings.HasPrefix(id, o.baseURL()+"/")
}

// LocalUsername extracts the username of a local actor id.
func (o Options) LocalUsername(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, o.baseURL()+"/users/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// extractDomain extracts the host from an IRI.
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(iri string) (string, error) {
	parsed, err := url.Parse(iri)
	if err != nil {
		return "", fmt.Errorf("invalid IRI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid IRI without host: %s", iri)
	}
	return parsed.Host, nil
}
