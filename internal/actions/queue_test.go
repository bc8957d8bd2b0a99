package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"ex-warden/internal/store/memory"
	"ex-warden/pkg/warden"
)

func newTestQueue(t *testing.T, store warden.DocumentStore, now time.Time) *Queue {
	t.Helper()

	sequence := 0
	queue, err := NewQueue(
		store,
		WithClock(func() time.Time { return now }),
		withIDs(func() string {
			sequence++
			return fmt.Sprintf("action-%d", sequence)
		}),
	)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}

	return queue
}

func TestQueueAddMute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	queue := newTestQueue(t, store, now)

	until := now.Add(10 * time.Minute)
	action, err := queue.AddMute(ctx, "111", "222", until, 7)
	if err != nil {
		t.Fatalf("add mute failed: %v", err)
	}
	if action.Kind != warden.ActionKindMute || action.ID != "action-1" {
		t.Fatalf("action = %+v", action)
	}
	if !action.From.Equal(now) || !action.To.Equal(until) {
		t.Fatalf("from/to = %v/%v, want %v/%v", action.From, action.To, now, until)
	}

	stored, ok, err := store.Find(ctx, warden.CollectionPendingActions, "action-1")
	if err != nil || !ok {
		t.Fatalf("stored = (%v, %v), want present", ok, err)
	}
	if !stored.Due.Equal(until) {
		t.Fatalf("document due = %v, want %v", stored.Due, until)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(stored.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if string(body["action"]) != `"mute"` {
		t.Fatalf("stored action = %s, want mute", body["action"])
	}
	if string(body["info"]) != `{"guild":"111","user":"222","case":7}` {
		t.Fatalf("stored info = %s", body["info"])
	}

	if due, err := queue.Due(ctx, until.Add(-time.Millisecond)); err != nil || len(due) != 0 {
		t.Fatalf("due before until = (%d, %v), want none", len(due), err)
	}
	due, err := queue.Due(ctx, until)
	if err != nil || len(due) != 1 {
		t.Fatalf("due at until = (%d, %v), want 1", len(due), err)
	}
	var info warden.MuteInfo
	if err := due[0].DecodeInfo(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info != (warden.MuteInfo{Guild: "111", User: "222", Case: 7}) {
		t.Fatalf("info = %+v", info)
	}
}

func TestQueueClampsPastDueTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	queue := newTestQueue(t, memory.NewStore(), now)

	past := now.Add(-time.Hour)
	action, err := queue.AddBan(context.Background(), "1", "2", past, 3)
	if err != nil {
		t.Fatalf("add ban failed: %v", err)
	}
	if !action.From.Equal(past) || !action.To.Equal(past) {
		t.Fatalf("from/to = %v/%v, want both %v", action.From, action.To, past)
	}
	if action.Delay() != 0 {
		t.Fatalf("delay = %v, want 0", action.Delay())
	}
}

func TestQueueRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		add  func(*Queue) error
	}{
		{
			name: "mute with non numeric user",
			add: func(queue *Queue) error {
				_, err := queue.AddMute(context.Background(), "1", "bob", now, 1)
				return err
			},
		},
		{
			name: "ban with empty guild",
			add: func(queue *Queue) error {
				_, err := queue.AddBan(context.Background(), "", "2", now, 1)
				return err
			},
		},
		{
			name: "lock with invalid overwrite target",
			add: func(queue *Queue) error {
				_, err := queue.AddLockChannel(context.Background(), "1", "2", []string{"3", "@everyone"}, now)
				return err
			},
		},
		{
			name: "resub without service",
			add: func(queue *Queue) error {
				_, err := queue.AddWebhookResub(context.Background(), " ", now)
				return err
			},
		},
		{
			name: "zero due time",
			add: func(queue *Queue) error {
				_, err := queue.AddWebhookResub(context.Background(), "youtube", time.Time{})
				return err
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store := memory.NewStore()
			queue := newTestQueue(t, store, now)
			if err := testCase.add(queue); !errors.Is(err, warden.ErrInvalidAction) {
				t.Fatalf("error = %v, want %v", err, warden.ErrInvalidAction)
			}
			if got := store.Len(warden.CollectionPendingActions); got != 0 {
				t.Fatalf("stored actions = %d, want 0", got)
			}
		})
	}
}

func TestQueueDueOrderAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	queue := newTestQueue(t, store, now)

	if _, err := queue.AddWebhookResub(ctx, "youtube", now.Add(96*time.Hour)); err != nil {
		t.Fatalf("add resub: %v", err)
	}
	if _, err := queue.AddLockChannel(ctx, "1", "2", []string{"1", "5"}, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("add lock: %v", err)
	}
	if _, err := queue.AddMute(ctx, "1", "3", now.Add(time.Minute), 1); err != nil {
		t.Fatalf("add mute: %v", err)
	}

	due, err := queue.Due(ctx, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("due failed: %v", err)
	}
	if len(due) != 2 || due[0].Kind != warden.ActionKindMute || due[1].Kind != warden.ActionKindLockChannel {
		t.Fatalf("due = %+v, want mute then lock", due)
	}

	pending, err := queue.Pending(ctx)
	if err != nil || len(pending) != 3 {
		t.Fatalf("pending = (%d, %v), want 3", len(pending), err)
	}

	removed, err := queue.Remove(ctx, due[0].ID)
	if err != nil || !removed {
		t.Fatalf("remove = (%v, %v), want true", removed, err)
	}
	removed, err = queue.Remove(ctx, due[0].ID)
	if err != nil || removed {
		t.Fatalf("second remove = (%v, %v), want false", removed, err)
	}
}

func TestQueueDropsUndecodableRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	queue := newTestQueue(t, store, now)

	if err := store.Insert(ctx, warden.Document{
		Collection: warden.CollectionPendingActions,
		Key:        "broken",
		Due:        now,
		Body:       json.RawMessage(`{"action":"teleport","from":"2026-04-01T10:00:00Z","to":"2026-04-01T10:00:00Z","info":{}}`),
	}); err != nil {
		t.Fatalf("insert broken: %v", err)
	}

	due, err := queue.Due(ctx, now)
	if err != nil || len(due) != 0 {
		t.Fatalf("due = (%d, %v), want none", len(due), err)
	}
	if got := store.Len(warden.CollectionPendingActions); got != 0 {
		t.Fatalf("stored actions = %d, want the broken record removed", got)
	}
}

func TestQueueDueSkipsActionsIndexedEarly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 13, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	queue := newTestQueue(t, store, now.Add(-time.Hour))

	action, err := queue.AddMute(ctx, "1", "3", now.Add(900*time.Microsecond), 1)
	if err != nil {
		t.Fatalf("add mute: %v", err)
	}
	stored, ok, err := store.Find(ctx, warden.CollectionPendingActions, action.ID)
	if err != nil || !ok {
		t.Fatalf("find stored action = (%v, %v), want found", ok, err)
	}
	stored.Due = now
	if err := store.Put(ctx, stored); err != nil {
		t.Fatalf("put truncated due: %v", err)
	}

	due, err := queue.Due(ctx, now.Add(100*time.Microsecond))
	if err != nil || len(due) != 0 {
		t.Fatalf("due = (%d, %v), want none before the action's due time", len(due), err)
	}
	if got := store.Len(warden.CollectionPendingActions); got != 1 {
		t.Fatalf("stored actions = %d, want the action kept", got)
	}

	due, err = queue.Due(ctx, now.Add(time.Millisecond))
	if err != nil || len(due) != 1 || due[0].ID != action.ID {
		t.Fatalf("due = (%+v, %v), want the mute", due, err)
	}
}
