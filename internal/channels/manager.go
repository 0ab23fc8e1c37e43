package channels

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dubserver/internal/models"
	"dubserver/internal/presence"
	"dubserver/internal/protocol"
)

var (
	// ErrRestrictedSender is returned when a restricted user attempts to
	// send a public or private message (§4.9).
	ErrRestrictedSender = errors.New("channels: sender is restricted")
	// ErrChannelNotFound is returned joining/parting/sending to a channel
	// that hasn't been loaded or lazily created.
	ErrChannelNotFound = errors.New("channels: channel not found")
	// ErrRecipientOffline is returned sending a private message to a
	// username with no active presence.
	ErrRecipientOffline = errors.New("channels: recipient offline")
)

// BotUserID is the fixed account id of the bot presence (§4.8, §4.11);
// it is exempt from the restricted-recipient silent-drop rule so
// moderation DMs always reach a restricted user.
const BotUserID uint = 1

// Manager owns the set of named channels and routes public/private
// messages between member presences, mirroring the teacher's
// ChatHub (internal/notifications/chat_hub.go) generalized from
// websocket push to presence-queue enqueue.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	log *slog.Logger
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		channels: make(map[string]*Channel),
		log:      log,
	}
}

// LoadStatic seeds the manager's channel set from the storage-backed
// channel rows loaded at startup (§4.9 "Channels loaded at startup from
// storage").
func (m *Manager) LoadStatic(records []models.ChannelRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, exists := m.channels[r.Name]; exists {
			continue
		}
		m.channels[r.Name] = newChannel(r.Name, r.ChannelType, r.Description)
	}
}

func (m *Manager) get(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[name]
	return c, ok
}

// CreatePrivateChannel lazily creates a private_temp channel (used for
// spectator rooms `#spec_<uid>`), a no-op if it already exists.
func (m *Manager) CreatePrivateChannel(name, description string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[name]; ok {
		return c
	}
	c := newChannel(name, models.ChannelPrivateTemp, description)
	m.channels[name] = c
	return c
}

// Listing returns the joinable channels in a deterministic form for the
// ChannelInfo frames sent at login (§4.8); private_temp channels are
// excluded from the public listing.
func (m *Manager) Listing() []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		if c.Type == models.ChannelPrivateTemp {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Join adds p to the named channel, emitting ChannelJoin(name) even on
// a repeat join, since clients sometimes drop their local channel state
// without telling the server (§4.9).
func (m *Manager) Join(name string, p *presence.Presence) error {
	c, ok := m.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	c.Join(p)
	p.Enqueue(protocol.BuildChannelJoin(name))
	return nil
}

// Part removes p from the named channel and emits ChannelKick.
func (m *Manager) Part(name string, p *presence.Presence) error {
	c, ok := m.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	c.Part(p)
	p.Enqueue(protocol.BuildChannelKick(name))
	return nil
}

// PartAll removes p from every channel it belongs to, used on dispose.
func (m *Manager) PartAll(p *presence.Presence) {
	for _, c := range m.Listing() {
		c.Part(p)
	}
	m.mu.RLock()
	for _, c := range m.channels {
		if c.Type == models.ChannelPrivateTemp {
			c.Part(p)
		}
	}
	m.mu.RUnlock()
}

// spectatorTarget rewrites the pseudo-target `#spectator` to the real
// spectator-room name for sender, whether it's spectating someone or is
// itself being spectated (§4.10 "Spectator semantics").
func spectatorTarget(sender *presence.Presence) (string, bool) {
	if host := sender.Spectating(); host != nil {
		return fmt.Sprintf("#spec_%d", host.UserID), true
	}
	if len(sender.Spectators()) > 0 {
		return fmt.Sprintf("#spec_%d", sender.UserID), true
	}
	return "", false
}

// SendPublic routes a public chat line to every other member of target,
// rewriting the `#spectator` pseudo-channel to the sender's actual
// spectator room (§4.9, §4.10).
func (m *Manager) SendPublic(sender *presence.Presence, target, content string) error {
	if sender.Restricted {
		return ErrRestrictedSender
	}

	actual := target
	if target == "#spectator" {
		if rewritten, ok := spectatorTarget(sender); ok {
			actual = rewritten
		}
	}

	c, ok := m.get(actual)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, actual)
	}

	frame := protocol.BuildSendMessage(protocol.BanchoMessage{
		Sender:   sender.Username,
		Content:  content,
		Target:   actual,
		SenderID: int32(sender.UserID),
	})
	c.recordRecent(content)

	for _, member := range c.Members() {
		if member == sender {
			continue
		}
		member.Enqueue(frame)
	}
	return nil
}

// SendPrivate delivers content to the presence registered under
// recipientUsernameSafe. Per §4.9, a restricted recipient silently
// drops the message unless the sender is the bot.
func (m *Manager) SendPrivate(sender *presence.Presence, recipientUsernameSafe, content string, registry *presence.Registry) error {
	if sender.Restricted {
		return ErrRestrictedSender
	}

	recipient, ok := registry.ByUsername(recipientUsernameSafe)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientOffline, recipientUsernameSafe)
	}

	if recipient.Restricted && sender.UserID != BotUserID {
		m.log.Info("dropping private message to restricted recipient",
			"sender", sender.Username, "recipient", recipient.Username)
		return nil
	}

	frame := protocol.BuildSendMessage(protocol.BanchoMessage{
		Sender:   sender.Username,
		Content:  content,
		Target:   recipient.Username,
		SenderID: int32(sender.UserID),
	})
	recipient.Enqueue(frame)
	return nil
}
