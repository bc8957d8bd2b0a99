// Package entities composes the generic cache into the guild, user and member
// managers used by command handlers and the pending action scheduler.
//
// Users are platform wide. Members are scoped by their guild: every loaded
// GuildWrapper owns a MemberManager holding an explicit pointer back to it, and
// evicting the guild discards that member cache.
package entities
