package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"
)

// chatPeer is one supergroup the session belongs to.
type chatPeer struct {
	input         *tg.InputChannel
	defaultRights tg.ChatBannedRights
}

// PeerCache stores input peers learned from chat syncs and participant lookups.
//
// Guild and user ids are decimal Telegram ids. Only supergroups are tracked as
// guilds because basic groups expose no participant or restriction RPCs.
type PeerCache struct {
	mu    sync.RWMutex
	chats map[string]chatPeer
	users map[string]int64
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		chats: make(map[string]chatPeer),
		users: make(map[string]int64),
	}
}

// ReplaceChats swaps the tracked chat set for the supergroups in chats.
//
// Channels the session left or was removed from are dropped.
func (c *PeerCache) ReplaceChats(chats []tg.ChatClass) int {
	if c == nil {
		return 0
	}

	next := make(map[string]chatPeer, len(chats))
	for _, chat := range chats {
		channel, ok := chat.(*tg.Channel)
		if !ok || channel.Left || channel.Min || !channel.Megagroup {
			continue
		}
		accessHash, _ := channel.GetAccessHash()
		rights, _ := channel.GetDefaultBannedRights()
		next[strconv.FormatInt(channel.ID, 10)] = chatPeer{
			input:         &tg.InputChannel{ChannelID: channel.ID, AccessHash: accessHash},
			defaultRights: rights,
		}
	}

	c.mu.Lock()
	c.chats = next
	c.mu.Unlock()

	return len(next)
}

// RememberUsers stores access hashes carried by users.
func (c *PeerCache) RememberUsers(users []tg.UserClass) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range users {
		user, ok := raw.(*tg.User)
		if !ok || user.Min {
			continue
		}
		accessHash, ok := user.GetAccessHash()
		if !ok {
			continue
		}
		c.users[strconv.FormatInt(user.ID, 10)] = accessHash
	}
}

// RememberDefaultRights updates the cached default banned rights of one guild.
func (c *PeerCache) RememberDefaultRights(guildID string, rights tg.ChatBannedRights) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if chat, ok := c.chats[guildID]; ok {
		chat.defaultRights = rights
		c.chats[guildID] = chat
	}
}

// Channel returns the input channel of one tracked guild.
func (c *PeerCache) Channel(guildID string) (*tg.InputChannel, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	chat, ok := c.chats[guildID]
	if !ok {
		return nil, false
	}
	input := *chat.input

	return &input, true
}

// ChannelPeer returns the input peer of one tracked guild.
func (c *PeerCache) ChannelPeer(guildID string) (tg.InputPeerClass, bool) {
	input, ok := c.Channel(guildID)
	if !ok {
		return nil, false
	}

	return &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}, true
}

// DefaultRights returns the cached default banned rights of one guild.
func (c *PeerCache) DefaultRights(guildID string) (tg.ChatBannedRights, bool) {
	if c == nil {
		return tg.ChatBannedRights{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	chat, ok := c.chats[guildID]

	return chat.defaultRights, ok
}

// User returns the input peer of one user.
//
// Users never seen before resolve with a zero access hash, which Telegram
// accepts for participants of a shared supergroup.
func (c *PeerCache) User(userID string) (tg.InputPeerClass, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("resolve user peer %q: invalid id", userID)
	}

	var accessHash int64
	if c != nil {
		c.mu.RLock()
		accessHash = c.users[userID]
		c.mu.RUnlock()
	}

	return &tg.InputPeerUser{UserID: id, AccessHash: accessHash}, nil
}

// Len returns the number of tracked guilds.
func (c *PeerCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.chats)
}
