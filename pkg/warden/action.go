package warden

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServiceActionQueue is the canonical service registry key for the pending action queue.
const ServiceActionQueue = "warden.action_queue"

// ActionKind enumerates deferred side effects.
type ActionKind string

const (
	// ActionKindMute lifts a temporary mute.
	ActionKindMute ActionKind = "mute"
	// ActionKindBan lifts a temporary ban.
	ActionKindBan ActionKind = "ban"
	// ActionKindLockChannel unlocks a temporarily locked channel.
	ActionKindLockChannel ActionKind = "lock_channel"
	// ActionKindWebhookResub renews feed subscriptions and schedules its successor.
	ActionKindWebhookResub ActionKind = "resub_webhook"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionKindMute, ActionKindBan, ActionKindLockChannel, ActionKindWebhookResub:
		return true
	default:
		return false
	}
}

// PendingAction is one persisted side effect waiting for its due time.
type PendingAction struct {
	// ID is the store-assigned identity.
	ID string
	// Kind selects the executor routine.
	Kind ActionKind
	// From records when the action was scheduled.
	From time.Time
	// To is the due timestamp. It is never before From.
	To time.Time
	// Info is the kind-specific payload.
	Info json.RawMessage
}

// Validate checks pending action invariants.
func (a PendingAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("validate pending action: missing id: %w", ErrInvalidAction)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("validate pending action %s: unknown kind %q: %w", a.ID, a.Kind, ErrInvalidAction)
	}
	if a.To.IsZero() {
		return fmt.Errorf("validate pending action %s: missing due time: %w", a.ID, ErrInvalidAction)
	}
	if a.To.Before(a.From) {
		return fmt.Errorf("validate pending action %s: due time before scheduled time: %w", a.ID, ErrInvalidAction)
	}

	return nil
}

// Delay returns how long the action waited between scheduling and due time.
func (a PendingAction) Delay() time.Duration {
	return a.To.Sub(a.From)
}

// DecodeInfo unmarshals the payload into target.
func (a PendingAction) DecodeInfo(target any) error {
	if len(a.Info) == 0 {
		return fmt.Errorf("decode %s action %s info: empty payload: %w", a.Kind, a.ID, ErrInvalidAction)
	}
	if err := json.Unmarshal(a.Info, target); err != nil {
		return fmt.Errorf("decode %s action %s info: %w", a.Kind, a.ID, err)
	}

	return nil
}

// MuteInfo is the payload of ActionKindMute.
type MuteInfo struct {
	Guild string `json:"guild"`
	User  string `json:"user"`
	Case  int    `json:"case"`
}

// BanInfo is the payload of ActionKindBan.
type BanInfo struct {
	Guild string `json:"guild"`
	User  string `json:"user"`
	Case  int    `json:"case"`
}

// LockChannelInfo is the payload of ActionKindLockChannel.
type LockChannelInfo struct {
	Guild      string   `json:"guild"`
	Channel    string   `json:"channel"`
	Overwrites []string `json:"overwrites"`
}

// WebhookResubInfo is the payload of ActionKindWebhookResub.
type WebhookResubInfo struct {
	Service string `json:"service"`
}
