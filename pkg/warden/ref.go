package warden

import (
	"fmt"
	"strings"
)

// EntityKind identifies one cached entity kind.
type EntityKind string

const (
	// EntityKindGuild identifies guild entities.
	EntityKindGuild EntityKind = "guild"
	// EntityKindUser identifies platform-wide user entities.
	EntityKindUser EntityKind = "user"
	// EntityKindMember identifies guild-scoped member entities.
	EntityKindMember EntityKind = "member"
	// EntityKindChannel identifies guild-scoped channels.
	EntityKindChannel EntityKind = "channel"
)

// Resolved is implemented by loaded entity wrappers.
type Resolved interface {
	// Key returns the canonical identity key within the wrapper's kind.
	Key() string
	// Kind returns the wrapper entity kind.
	Kind() EntityKind
}

// LiveObject is implemented by live-system objects that carry a platform identifier.
type LiveObject interface {
	// PlatformID returns the platform identifier of the object.
	PlatformID() string
	// EntityKind returns the entity kind the identifier belongs to.
	EntityKind() EntityKind
}

// RefKind discriminates the shapes a Ref can hold.
type RefKind uint8

const (
	// RefKindNone is the zero Ref and never resolves.
	RefKindNone RefKind = iota
	// RefKindID holds a raw platform identifier.
	RefKindID
	// RefKindLive holds a live-system object.
	RefKindLive
	// RefKindResolved holds an already loaded wrapper.
	RefKindResolved
)

// String returns a stable name for logs.
func (k RefKind) String() string {
	switch k {
	case RefKindID:
		return "id"
	case RefKindLive:
		return "live"
	case RefKindResolved:
		return "resolved"
	default:
		return "none"
	}
}

// Ref is a loosely typed entity reference: a raw id, a live object or a wrapper.
type Ref struct {
	kind     RefKind
	id       string
	live     LiveObject
	resolved Resolved
}

// ID builds a reference from a raw platform identifier.
func ID(id string) Ref {
	return Ref{kind: RefKindID, id: id}
}

// Live builds a reference from a live-system object.
func Live(object LiveObject) Ref {
	if object == nil {
		return Ref{}
	}

	return Ref{kind: RefKindLive, live: object}
}

// Of builds a reference from an already loaded wrapper.
func Of(resolved Resolved) Ref {
	if resolved == nil {
		return Ref{}
	}

	return Ref{kind: RefKindResolved, resolved: resolved}
}

// Kind reports which variant r holds.
func (r Ref) Kind() RefKind {
	return r.kind
}

// Resolved returns the wrapper held by r, if any.
func (r Ref) Resolved() (Resolved, bool) {
	if r.kind != RefKindResolved || r.resolved == nil {
		return nil, false
	}

	return r.resolved, true
}

// String renders r for logs.
func (r Ref) String() string {
	switch r.kind {
	case RefKindID:
		return "id:" + r.id
	case RefKindLive:
		return fmt.Sprintf("live:%s:%s", r.live.EntityKind(), r.live.PlatformID())
	case RefKindResolved:
		return fmt.Sprintf("resolved:%s:%s", r.resolved.Kind(), r.resolved.Key())
	default:
		return "none"
	}
}

// ResolveKey converts ref into the canonical key for target without any I/O.
//
// Live objects and wrappers resolve when their kind is target or one of accept.
// A wrapper of the target kind short-circuits to its own key.
func ResolveKey(ref Ref, target EntityKind, accept ...EntityKind) (string, error) {
	switch ref.kind {
	case RefKindID:
		if err := ValidateID(ref.id); err != nil {
			return "", fmt.Errorf("resolve %s key: %w", target, err)
		}
		return ref.id, nil
	case RefKindLive:
		if !kindAccepted(ref.live.EntityKind(), target, accept) {
			return "", fmt.Errorf(
				"resolve %s key from live %s: %w",
				target,
				ref.live.EntityKind(),
				ErrInvalidReference,
			)
		}
		id := ref.live.PlatformID()
		if err := ValidateID(id); err != nil {
			return "", fmt.Errorf("resolve %s key from live %s: %w", target, ref.live.EntityKind(), err)
		}
		return id, nil
	case RefKindResolved:
		if !kindAccepted(ref.resolved.Kind(), target, accept) {
			return "", fmt.Errorf(
				"resolve %s key from %s wrapper: %w",
				target,
				ref.resolved.Kind(),
				ErrInvalidReference,
			)
		}
		return ref.resolved.Key(), nil
	default:
		return "", fmt.Errorf("resolve %s key: empty reference: %w", target, ErrInvalidReference)
	}
}

// ValidateID checks that id is a snowflake-like unsigned decimal integer.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidReference)
	}
	if len(id) > 20 {
		return fmt.Errorf("id %q too long: %w", id, ErrInvalidReference)
	}
	for _, char := range id {
		if char < '0' || char > '9' {
			return fmt.Errorf("id %q is not numeric: %w", id, ErrInvalidReference)
		}
	}

	return nil
}

func kindAccepted(kind EntityKind, target EntityKind, accept []EntityKind) bool {
	if kind == target {
		return true
	}
	for _, candidate := range accept {
		if kind == candidate {
			return true
		}
	}

	return false
}

// LiveGuild is a guild as seen by the live system.
type LiveGuild struct {
	ID    string
	Title string
}

// PlatformID returns the guild id.
func (g LiveGuild) PlatformID() string { return g.ID }

// EntityKind returns EntityKindGuild.
func (LiveGuild) EntityKind() EntityKind { return EntityKindGuild }

// LiveUser is a user as seen by the live system.
type LiveUser struct {
	ID       string
	Username string
}

// PlatformID returns the user id.
func (u LiveUser) PlatformID() string { return u.ID }

// EntityKind returns EntityKindUser.
func (LiveUser) EntityKind() EntityKind { return EntityKindUser }

// LiveMember is a user in the context of one guild.
type LiveMember struct {
	GuildID string
	UserID  string
	Roles   []string
}

// PlatformID returns the member's user id, the key within its guild.
func (m LiveMember) PlatformID() string { return m.UserID }

// EntityKind returns EntityKindMember.
func (LiveMember) EntityKind() EntityKind { return EntityKindMember }

// LiveChannel is a channel inside one guild.
type LiveChannel struct {
	GuildID string
	ID      string
}

// PlatformID returns the channel id.
func (c LiveChannel) PlatformID() string { return c.ID }

// EntityKind returns EntityKindChannel.
func (LiveChannel) EntityKind() EntityKind { return EntityKindChannel }
