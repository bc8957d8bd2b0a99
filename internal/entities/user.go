package entities

import (
	"fmt"
	"time"

	"ex-warden/internal/cache"
	"ex-warden/pkg/warden"
)

// UserDoc is the stored platform-wide user document.
type UserDoc struct {
	User            string       `json:"user"`
	Blacklisted     bool         `json:"blacklisted"`
	CommandLastUsed commandUsage `json:"commandLastUsed"`
}

func defaultUserDoc(userID string) UserDoc {
	return UserDoc{
		User:            userID,
		CommandLastUsed: make(commandUsage),
	}
}

// UserWrapper is a loaded user document.
type UserWrapper struct {
	*cache.Wrapper[UserDoc]
}

// ID returns the user id.
func (u *UserWrapper) ID() string {
	return u.Key()
}

// Blacklisted reports whether the user is barred from using commands.
func (u *UserWrapper) Blacklisted() bool {
	var blacklisted bool
	u.View(func(doc UserDoc) { blacklisted = doc.Blacklisted })

	return blacklisted
}

// SetBlacklisted changes the blacklist flag.
func (u *UserWrapper) SetBlacklisted(blacklisted bool) {
	u.Mutate(func(doc *UserDoc) { doc.Blacklisted = blacklisted })
}

// CommandLastUsed returns when the user last ran command anywhere.
func (u *UserWrapper) CommandLastUsed(command string) (time.Time, bool) {
	var (
		at time.Time
		ok bool
	)
	u.View(func(doc UserDoc) { at, ok = doc.CommandLastUsed.last(command) })

	return at, ok
}

// TouchCommand records a use of command at the given time.
func (u *UserWrapper) TouchCommand(command string, at time.Time) {
	u.Mutate(func(doc *UserDoc) { touchCommand(&doc.CommandLastUsed, command, at) })
}

// UserManager caches platform-wide user documents.
type UserManager struct {
	*cache.Manager[UserDoc, *UserWrapper]
}

func newUserManager(deps dependencies) (*UserManager, error) {
	manager, err := cache.NewManager(cache.Config[UserDoc, *UserWrapper]{
		Kind:       warden.EntityKindUser,
		Collection: warden.CollectionUsers,
		Store:      deps.store,
		// a member reference carries the user id as well
		Accept:  []warden.EntityKind{warden.EntityKindMember},
		Default: defaultUserDoc,
		Wrap: func(generic *cache.Wrapper[UserDoc]) (*UserWrapper, error) {
			return &UserWrapper{Wrapper: generic}, nil
		},
		Logger:  deps.logger,
		Metrics: deps.metrics,
		Clock:   deps.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("new user manager: %w", err)
	}

	return &UserManager{Manager: manager}, nil
}
