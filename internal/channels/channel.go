// Package channels implements the channel manager (C9): named channels
// with membership sets and public/private message routing, adapted
// from the teacher's conversation-centric ChatHub
// (internal/notifications/chat_hub.go) — generalized from websocket
// fan-out to enqueueing onto each member presence's outbound byte
// queue (internal/presence).
package channels

import (
	"sync"

	"dubserver/internal/models"
	"dubserver/internal/presence"
)

// recentMessageCap bounds the per-channel recent-message buffer
// surfaced to newly joining clients in channel history scrollback.
const recentMessageCap = 50

// Channel is one named chat channel: a membership set keyed by
// presence token, plus a small ring of recent lines.
type Channel struct {
	Name        string
	Type        models.ChannelType
	Description string

	mu      sync.RWMutex
	members map[string]*presence.Presence

	recentMu sync.Mutex
	recent   []string
}

func newChannel(name string, typ models.ChannelType, description string) *Channel {
	return &Channel{
		Name:        name,
		Type:        typ,
		Description: description,
		members:     make(map[string]*presence.Presence),
	}
}

// Join adds p to the channel's membership, a no-op if already a member.
func (c *Channel) Join(p *presence.Presence) {
	c.mu.Lock()
	c.members[p.Token] = p
	c.mu.Unlock()
}

// Part removes p from the channel's membership.
func (c *Channel) Part(p *presence.Presence) {
	c.mu.Lock()
	delete(c.members, p.Token)
	c.mu.Unlock()
}

// HasMember reports whether p currently belongs to the channel.
func (c *Channel) HasMember(p *presence.Presence) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[p.Token]
	return ok
}

// Members returns a point-in-time snapshot of the channel's members.
func (c *Channel) Members() []*presence.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*presence.Presence, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

func (c *Channel) recordRecent(line string) {
	c.recentMu.Lock()
	c.recent = append(c.recent, line)
	if len(c.recent) > recentMessageCap {
		c.recent = c.recent[len(c.recent)-recentMessageCap:]
	}
	c.recentMu.Unlock()
}

// Recent returns a copy of the channel's recent-message buffer.
func (c *Channel) Recent() []string {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	out := make([]string, len(c.recent))
	copy(out, c.recent)
	return out
}
