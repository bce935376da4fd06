package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/stegofed/domain"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Verb is the type of an activity.
type Verb string

const (
	VerbAccept   Verb = "Accept"
	VerbFollow   Verb = "Follow"
	VerbUndo     Verb = "Undo"
	VerbCreate   Verb = "Create"
	VerbUpdate   Verb = "Update"
	VerbDelete   Verb = "Delete"
	VerbAnnounce Verb = "Announce"
	VerbLike     Verb = "Like"
	VerbMove     Verb = "Move"
)

var (
	// object kinds handled as statuses
	noteTypes = map[string]bool{"Note": true, "Article": true, "Question": true, "Page": true}
	// object kinds handled as actors
	actorTypes = map[string]bool{"Person": true, "Service": true, "Application": true, "Group": true, "Organization": true}
)

// Reference is the object of an activity: either a bare id or an embedded
// document. The dispatcher turns every Reference into an Embedded before
// handing it to a verb handler.
type Reference interface {
	ID() string
	isReference()
}

// IDRef is a reference by IRI.
type IDRef string

func (r IDRef) ID() string { return string(r) }
func (IDRef) isReference() {}

// Embedded is a reference carrying the document itself.
type Embedded struct {
	Props domain.Properties
}

func (e Embedded) ID() string   { return e.Props.String("id") }
func (e Embedded) Type() string { return e.Props.String("type") }
func (Embedded) isReference()   {}

// ParseReference accepts a string, an embedded document or a one element list.
func ParseReference(v any) (Reference, error) {
	switch ref := v.(type) {
	case string:
		if ref == "" {
			return nil, fmt.Errorf("empty reference")
		}
		return IDRef(ref), nil
	case map[string]any:
		return Embedded{Props: domain.Properties(ref)}, nil
	case []any:
		if len(ref) == 1 {
			return ParseReference(ref[0])
		}
		return nil, fmt.Errorf("reference lists with %d entries are not supported", len(ref))
	case nil:
		return nil, fmt.Errorf("missing reference")
	default:
		return nil, fmt.Errorf("unsupported reference of type %T", v)
	}
}

// Envelope holds the fields shared by every activity.
type Envelope struct {
	ID        string
	Type      Verb
	Actor     string
	Object    Reference
	Target    string
	To        []string
	Cc        []string
	Published time.Time
	// Raw is the activity as received.
	Raw domain.Properties
}

// Embedded returns the normalized object. Before normalization a bare id
// is returned as a document holding only the id.
func (e *Envelope) Embedded() Embedded {
	switch ref := e.Object.(type) {
	case Embedded:
		return ref
	case IDRef:
		return Embedded{Props: domain.Properties{"id": string(ref)}}
	}
	return Embedded{Props: domain.Properties{}}
}

// Recipients returns the deduplicated to and cc addresses.
func (e *Envelope) Recipients() []string {
	return uniqueStrings(append(append([]string{}, e.To...), e.Cc...))
}

// Activity is the closed set of supported verbs.
type Activity interface {
	Envelope() *Envelope
	activity()
}

type (
	Accept   struct{ env Envelope }
	Follow   struct{ env Envelope }
	Undo     struct{ env Envelope }
	Create   struct{ env Envelope }
	Update   struct{ env Envelope }
	Delete   struct{ env Envelope }
	Announce struct{ env Envelope }
	Like     struct{ env Envelope }
	Move     struct{ env Envelope }
)

func (a *Accept) Envelope() *Envelope   { return &a.env }
func (a *Follow) Envelope() *Envelope   { return &a.env }
func (a *Undo) Envelope() *Envelope     { return &a.env }
func (a *Create) Envelope() *Envelope   { return &a.env }
func (a *Update) Envelope() *Envelope   { return &a.env }
func (a *Delete) Envelope() *Envelope   { return &a.env }
func (a *Announce) Envelope() *Envelope { return &a.env }
func (a *Like) Envelope() *Envelope     { return &a.env }
func (a *Move) Envelope() *Envelope     { return &a.env }

func (*Accept) activity()   {}
func (*Follow) activity()   {}
func (*Undo) activity()     {}
func (*Create) activity()   {}
func (*Update) activity()   {}
func (*Delete) activity()   {}
func (*Announce) activity() {}
func (*Like) activity()     {}
func (*Move) activity()     {}

// ParseActivity decodes a raw activity. Types outside the vocabulary yield
// ErrUnknownVerb.
func ParseActivity(raw []byte) (Activity, error) {
	var props domain.Properties
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	return ActivityFromProperties(props)
}

func ActivityFromProperties(props domain.Properties) (Activity, error) {
	env := Envelope{
		ID:     props.String("id"),
		Type:   Verb(props.String("type")),
		Actor:  props.String("actor"),
		Target: props.String("target"),
		To:     props.Strings("to"),
		Cc:     props.Strings("cc"),
		Raw:    props,
	}
	if published := props.String("published"); published != "" {
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			env.Published = t
		}
	}

	var act Activity
	switch env.Type {
	case VerbAccept:
		act = &Accept{}
	case VerbFollow:
		act = &Follow{}
	case VerbUndo:
		act = &Undo{}
	case VerbCreate:
		act = &Create{}
	case VerbUpdate:
		act = &Update{}
	case VerbDelete:
		act = &Delete{}
	case VerbAnnounce:
		act = &Announce{}
	case VerbLike:
		act = &Like{}
	case VerbMove:
		act = &Move{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVerb, env.Type)
	}

	if env.Actor == "" {
		return nil, fmt.Errorf("%s activity without actor", env.Type)
	}
	ref, err := ParseReference(props["object"])
	if err != nil {
		return nil, fmt.Errorf("%s activity object: %w", env.Type, err)
	}
	env.Object = ref

	*act.Envelope() = env
	return act, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
