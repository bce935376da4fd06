package domain

import (
	"encoding/json"
	"time"
)

// PublicAudience is the ActivityStreams magic collection for public addressing.
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// Properties is the wire-visible JSON property bag of an ActivityStreams document.
type Properties map[string]any

// String returns the string value of key, or the id of an embedded document.
func (p Properties) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Strings returns key as a list of IRIs. A single string or embedded
// document counts as a one-element list.
func (p Properties) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return []string{id}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if id, ok := it["id"].(string); ok {
					out = append(out, id)
				}
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Canonical returns a stable JSON encoding (map keys are sorted by encoding/json).
func (p Properties) Canonical() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// ObjectMeta holds internal bookkeeping that never goes on the wire.
type ObjectMeta struct {
	PublicID         string
	OriginalActorID  string
	OriginalObjectID string
	ReplyToObjectID  string
	Local            bool
	CreatedAt        time.Time
}

// Object is a cached or locally authored piece of content. ID is the local
// cache identity; Meta.OriginalObjectID is the author's canonical URL.
type Object struct {
	ID         string
	Type       string
	Properties Properties
	Meta       ObjectMeta
}

// Wire returns the document as emitted to federation peers. Only wire
// fields are included and the id is the original identity.
func (o *Object) Wire() Properties {
	out := o.Properties.Clone()
	out["id"] = o.OriginalID()
	out["type"] = o.Type
	return out
}

// MarshalJSON emits the wire form only.
func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Wire())
}

// OriginalID is the deduplication key of the object.
func (o *Object) OriginalID() string {
	if o.Meta.OriginalObjectID != "" {
		return o.Meta.OriginalObjectID
	}
	return o.ID
}

// IsPublic reports whether the object is addressed to the public collection.
func (o *Object) IsPublic() bool {
	for _, key := range []string{"to", "cc"} {
		for _, r := range o.Properties.Strings(key) {
			if r == PublicAudience || r == "as:Public" || r == "Public" {
				return true
			}
		}
	}
	return false
}

// Revision is a snapshot of an object's properties taken before an update.
type Revision struct {
	Id         string
	ObjectID   string
	Properties Properties
	CreatedAt  time.Time
}
