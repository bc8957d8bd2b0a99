package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"ex-warden/internal/cache"
	"ex-warden/pkg/warden"
)

type outcome string

const (
	outcomeExecuted outcome = "executed"
	outcomeSkipped  outcome = "skipped"
	outcomeDenied   outcome = "denied"
	outcomeFailed   outcome = "failed"
)

const (
	tickCompleted    = "completed"
	tickDisconnected = "disconnected"
	tickStoreError   = "store_error"
)

type actionResult struct {
	action  warden.PendingAction
	outcome outcome
	err     error
}

// tick processes every due action once. Ticks never overlap because the loop
// runs them sequentially.
func (m *Module) tick(ctx context.Context) []actionResult {
	if !m.live.Connected() {
		m.metrics.Tick(tickDisconnected)
		m.logger.DebugContext(ctx, "scheduler tick skipped, live system disconnected")
		return nil
	}

	due, err := m.queue.Due(ctx, m.clock())
	if err != nil {
		m.metrics.Tick(tickStoreError)
		m.logger.ErrorContext(ctx, "scheduler read due actions", "error", err)
		return nil
	}

	// a started action always reaches its removal; stopping only skips the rest
	actionCtx := context.WithoutCancel(ctx)
	results := make([]actionResult, 0, len(due))
	for _, action := range due {
		if ctx.Err() != nil {
			m.logger.InfoContext(actionCtx, "scheduler tick interrupted", "remaining", len(due)-len(results))
			break
		}

		result := m.executeSafely(actionCtx, action)
		results = append(results, result)
		m.metrics.Action(string(action.Kind), string(result.outcome))
		m.logResult(actionCtx, result)

		if _, err := m.queue.Remove(actionCtx, action.ID); err != nil {
			m.logger.ErrorContext(ctx,
				"scheduler remove pending action",
				"action_id", action.ID,
				"action", action.Kind,
				"error", err,
			)
		}
	}
	m.metrics.Tick(tickCompleted)

	return results
}

func (m *Module) logResult(ctx context.Context, result actionResult) {
	attrs := []any{
		"action_id", result.action.ID,
		"action", result.action.Kind,
		"outcome", result.outcome,
		"delay", result.action.Delay(),
	}
	switch result.outcome {
	case outcomeFailed:
		m.logger.ErrorContext(ctx, "pending action failed", append(attrs, "error", result.err)...)
	case outcomeDenied:
		m.logger.WarnContext(ctx, "pending action dropped", append(attrs, "error", result.err)...)
	default:
		m.logger.InfoContext(ctx, "pending action processed", attrs...)
	}
}

func (m *Module) executeSafely(ctx context.Context, action warden.PendingAction) (result actionResult) {
	result.action = action
	defer func() {
		if recovered := recover(); recovered != nil {
			result.outcome = outcomeFailed
			result.err = fmt.Errorf("execute %s action %s: panic: %v", action.Kind, action.ID, recovered)
		}
	}()

	var err error
	switch action.Kind {
	case warden.ActionKindMute:
		result.outcome, err = m.executeMute(ctx, action)
	case warden.ActionKindBan:
		result.outcome, err = m.executeBan(ctx, action)
	case warden.ActionKindLockChannel:
		result.outcome, err = m.executeLockChannel(ctx, action)
	case warden.ActionKindWebhookResub:
		result.outcome, err = m.executeWebhookResub(ctx, action)
	default:
		result.outcome, err = outcomeFailed, fmt.Errorf("unknown action kind %q: %w", action.Kind, warden.ErrInvalidAction)
	}
	if err != nil {
		result.err = fmt.Errorf("execute %s action %s: %w", action.Kind, action.ID, err)
		if result.outcome == outcomeExecuted {
			result.outcome = classify(err)
		}
	}

	return result
}

func classify(err error) outcome {
	if errors.Is(err, warden.ErrPermissionDenied) {
		return outcomeDenied
	}

	return outcomeFailed
}

// guildWithPermission loads the guild and checks the acting principal holds permission.
func (m *Module) guildWithPermission(
	ctx context.Context,
	guildID string,
	permission warden.Permission,
) (outcome, error) {
	_, found, err := m.entities.Guilds.Fetch(ctx, warden.ID(guildID), cache.FetchOptions{Create: true})
	if err != nil {
		return outcomeFailed, err
	}
	if !found {
		return outcomeSkipped, nil
	}

	allowed, err := m.live.HasPermission(ctx, guildID, permission)
	if err != nil {
		return classify(err), fmt.Errorf("check %s permission: %w", permission, err)
	}
	if !allowed {
		return outcomeDenied, fmt.Errorf("missing %s permission in guild %s: %w", permission, guildID, warden.ErrPermissionDenied)
	}

	return outcomeExecuted, nil
}

func (m *Module) executeMute(ctx context.Context, action warden.PendingAction) (outcome, error) {
	var info warden.MuteInfo
	if err := action.DecodeInfo(&info); err != nil {
		return outcomeFailed, err
	}

	if result, err := m.guildWithPermission(ctx, info.Guild, warden.PermissionManageRoles); result != outcomeExecuted {
		return result, err
	}

	_, found, err := m.entities.Member(ctx, warden.ID(info.Guild), warden.ID(info.User), true)
	if err != nil {
		return outcomeFailed, err
	}
	if !found {
		return outcomeSkipped, nil
	}

	reason := fmt.Sprintf("Auto unmute for case %d after %s", info.Case, action.Delay())
	if err := m.live.RemoveRole(ctx, info.Guild, info.User, warden.MutedRole, reason); err != nil {
		return outcomeExecuted, fmt.Errorf("remove muted role: %w", err)
	}

	return outcomeExecuted, nil
}

func (m *Module) executeBan(ctx context.Context, action warden.PendingAction) (outcome, error) {
	var info warden.BanInfo
	if err := action.DecodeInfo(&info); err != nil {
		return outcomeFailed, err
	}

	if result, err := m.guildWithPermission(ctx, info.Guild, warden.PermissionBanMembers); result != outcomeExecuted {
		return result, err
	}

	reason := fmt.Sprintf("Auto unban for case %d after %s", info.Case, action.Delay())
	if err := m.live.Unban(ctx, info.Guild, info.User, reason); err != nil {
		return outcomeExecuted, fmt.Errorf("unban: %w", err)
	}

	return outcomeExecuted, nil
}

func (m *Module) executeLockChannel(ctx context.Context, action warden.PendingAction) (outcome, error) {
	var info warden.LockChannelInfo
	if err := action.DecodeInfo(&info); err != nil {
		return outcomeFailed, err
	}

	if result, err := m.guildWithPermission(ctx, info.Guild, warden.PermissionManageChannels); result != outcomeExecuted {
		return result, err
	}

	exists, err := m.live.HasChannel(ctx, info.Guild, info.Channel)
	if err != nil {
		return classify(err), fmt.Errorf("check channel %s: %w", info.Channel, err)
	}
	if !exists {
		return outcomeSkipped, nil
	}

	reason := fmt.Sprintf("Auto unlock after %s", action.Delay())
	var errs []error
	for _, target := range slices.Compact(slices.Clone(info.Overwrites)) {
		if err := m.live.SetChannelOverwrite(ctx, warden.ChannelOverwrite{
			GuildID:      info.Guild,
			ChannelID:    info.Channel,
			TargetID:     target,
			SendMessages: warden.OverwriteInherit,
			Reason:       reason,
		}); err != nil {
			errs = append(errs, fmt.Errorf("reset overwrite %s: %w", target, err))
		}
	}

	return outcomeExecuted, errors.Join(errs...)
}

func (m *Module) executeWebhookResub(ctx context.Context, action warden.PendingAction) (outcome, error) {
	var info warden.WebhookResubInfo
	if err := action.DecodeInfo(&info); err != nil {
		return outcomeFailed, err
	}
	if m.feeds == nil || !slices.Contains(m.feeds.Services(), info.Service) {
		// no resubscriber for the service: the chain ends here
		return outcomeSkipped, nil
	}

	resubErr := m.feeds.Resubscribe(ctx, info.Service)

	next := action.To.Add(m.resubInterval)
	successor, err := m.queue.AddWebhookResub(ctx, info.Service, next)
	if err != nil {
		return outcomeExecuted, errors.Join(
			resubErr,
			fmt.Errorf("schedule next %s resubscription: %w", info.Service, err),
		)
	}
	m.logger.DebugContext(ctx,
		"webhook resub rescheduled",
		"service", info.Service,
		"action_id", successor.ID,
		"due", next,
	)

	if resubErr != nil {
		return outcomeExecuted, fmt.Errorf("resubscribe %s: %w", info.Service, resubErr)
	}

	return outcomeExecuted, nil
}
