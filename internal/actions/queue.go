// Package actions persists delayed side effects in the pending action collection.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ex-warden/pkg/warden"
)

// farFuture bounds Pending. It stays inside the range of Unix milliseconds.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// record is the stored document body of one pending action.
type record struct {
	Action warden.ActionKind `json:"action"`
	From   time.Time         `json:"from"`
	To     time.Time         `json:"to"`
	Info   json.RawMessage   `json:"info"`
}

// Option mutates queue configuration.
type Option func(*Queue)

// WithLogger injects a logger directly.
func WithLogger(logger *slog.Logger) Option {
	return func(queue *Queue) {
		if logger != nil {
			queue.logger = logger
		}
	}
}

// WithClock overrides the clock stamping scheduled-from times.
func WithClock(clock func() time.Time) Option {
	return func(queue *Queue) {
		if clock != nil {
			queue.clock = clock
		}
	}
}

func withIDs(newID func() string) Option {
	return func(queue *Queue) {
		if newID != nil {
			queue.newID = newID
		}
	}
}

// Queue is the persistence-backed queue of pending actions.
type Queue struct {
	store  warden.DocumentStore
	logger *slog.Logger
	clock  func() time.Time
	newID  func() string
}

// NewQueue creates a queue over store.
func NewQueue(store warden.DocumentStore, options ...Option) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("new action queue: nil store")
	}

	queue := &Queue{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, option := range options {
		option(queue)
	}

	return queue, nil
}

// AddMute schedules removal of the muted role from user in guild at until.
func (q *Queue) AddMute(ctx context.Context, guildID string, userID string, until time.Time, caseID int) (warden.PendingAction, error) {
	if err := validateIDs(guildID, userID); err != nil {
		return warden.PendingAction{}, fmt.Errorf("add mute: %w", err)
	}

	return q.add(ctx, warden.ActionKindMute, until, warden.MuteInfo{Guild: guildID, User: userID, Case: caseID})
}

// AddBan schedules lifting the ban of user in guild at until.
func (q *Queue) AddBan(ctx context.Context, guildID string, userID string, until time.Time, caseID int) (warden.PendingAction, error) {
	if err := validateIDs(guildID, userID); err != nil {
		return warden.PendingAction{}, fmt.Errorf("add ban: %w", err)
	}

	return q.add(ctx, warden.ActionKindBan, until, warden.BanInfo{Guild: guildID, User: userID, Case: caseID})
}

// AddLockChannel schedules resetting the send-messages overwrite of every
// target in overwrites on channel at until.
func (q *Queue) AddLockChannel(
	ctx context.Context,
	guildID string,
	channelID string,
	overwrites []string,
	until time.Time,
) (warden.PendingAction, error) {
	if err := validateIDs(append([]string{guildID, channelID}, overwrites...)...); err != nil {
		return warden.PendingAction{}, fmt.Errorf("add lock channel: %w", err)
	}

	targets := make([]string, len(overwrites))
	copy(targets, overwrites)

	return q.add(ctx, warden.ActionKindLockChannel, until, warden.LockChannelInfo{
		Guild:      guildID,
		Channel:    channelID,
		Overwrites: targets,
	})
}

// AddWebhookResub schedules renewal of the feed subscriptions of service at at.
func (q *Queue) AddWebhookResub(ctx context.Context, service string, at time.Time) (warden.PendingAction, error) {
	if strings.TrimSpace(service) == "" {
		return warden.PendingAction{}, fmt.Errorf("add webhook resub: empty service: %w", warden.ErrInvalidAction)
	}

	return q.add(ctx, warden.ActionKindWebhookResub, at, warden.WebhookResubInfo{Service: service})
}

// Due returns the actions whose due time is at or before now, oldest first.
//
// Records that cannot be decoded can never execute; they are logged and removed.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]warden.PendingAction, error) {
	return q.find(ctx, now)
}

// Pending returns every stored action regardless of due time.
func (q *Queue) Pending(ctx context.Context) ([]warden.PendingAction, error) {
	return q.find(ctx, farFuture)
}

// Remove deletes the action with id. It reports false when nothing was stored.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := q.store.Delete(ctx, warden.CollectionPendingActions, id)
	if err != nil {
		return false, fmt.Errorf("remove pending action %s: %w", id, err)
	}

	return removed, nil
}

func (q *Queue) add(ctx context.Context, kind warden.ActionKind, until time.Time, info any) (warden.PendingAction, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return warden.PendingAction{}, fmt.Errorf("add %s action: marshal info: %w", kind, err)
	}

	from := q.clock().UTC()
	to := until.UTC()
	if to.Before(from) {
		from = to
	}

	action := warden.PendingAction{
		ID:   q.newID(),
		Kind: kind,
		From: from,
		To:   to,
		Info: payload,
	}
	if err := action.Validate(); err != nil {
		return warden.PendingAction{}, fmt.Errorf("add %s action: %w", kind, err)
	}

	body, err := json.Marshal(record{Action: kind, From: from, To: to, Info: payload})
	if err != nil {
		return warden.PendingAction{}, fmt.Errorf("add %s action: marshal record: %w", kind, err)
	}
	if err := q.store.Insert(ctx, warden.Document{
		Collection: warden.CollectionPendingActions,
		Key:        action.ID,
		Due:        to,
		Body:       body,
	}); err != nil {
		return warden.PendingAction{}, fmt.Errorf("add %s action: %w", kind, err)
	}

	q.logger.DebugContext(ctx,
		"pending action scheduled",
		"action_id", action.ID,
		"action", kind,
		"due", to,
	)

	return action, nil
}

func (q *Queue) find(ctx context.Context, cutoff time.Time) ([]warden.PendingAction, error) {
	documents, err := q.store.FindDue(ctx, warden.CollectionPendingActions, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find pending actions: %w", err)
	}

	actions := make([]warden.PendingAction, 0, len(documents))
	for _, document := range documents {
		action, err := decodeAction(document)
		if err != nil {
			q.logger.ErrorContext(ctx, "drop undecodable pending action", "action_id", document.Key, "error", err)
			if _, removeErr := q.store.Delete(ctx, warden.CollectionPendingActions, document.Key); removeErr != nil {
				q.logger.ErrorContext(ctx, "remove undecodable pending action", "action_id", document.Key, "error", removeErr)
			}
			continue
		}
		if action.To.After(cutoff) {
			continue
		}
		actions = append(actions, action)
	}

	return actions, nil
}

func decodeAction(document warden.Document) (warden.PendingAction, error) {
	var stored record
	if err := json.Unmarshal(document.Body, &stored); err != nil {
		return warden.PendingAction{}, fmt.Errorf("decode pending action %s: %w", document.Key, err)
	}

	action := warden.PendingAction{
		ID:   document.Key,
		Kind: stored.Action,
		From: stored.From,
		To:   stored.To,
		Info: stored.Info,
	}
	if err := action.Validate(); err != nil {
		return warden.PendingAction{}, err
	}

	return action, nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := warden.ValidateID(id); err != nil {
			return fmt.Errorf("%w: %w", warden.ErrInvalidAction, err)
		}
	}

	return nil
}
