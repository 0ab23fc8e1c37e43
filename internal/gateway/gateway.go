// Package gateway implements the session gateway (C10): the single
// HTTP POST endpoint that serves both login and the frame-batch packet
// stream, composing the presence registry (C8), channel manager (C9)
// and packet codec (C7). Grounded on the teacher's handler-per-concern
// file layout (internal/server/*_handlers.go) and its AppError/
// RespondWithError error model, adapted from JSON REST handlers to the
// binary packet protocol's own response shape (a raw byte body, or the
// plain-string failure markers of §7).
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"dubserver/internal/channels"
	"dubserver/internal/geo"
	"dubserver/internal/models"
	"dubserver/internal/presence"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StatsProvider recomputes and returns a user's cached stats snapshot,
// implemented by the leaderboard service (C6) and injected here so the
// gateway does not import it directly.
type StatsProvider interface {
	Refresh(ctx context.Context, userID uint, mode models.Mode) (presence.StatsSnapshot, error)
}

// AlertNotifier posts a moderation alert, implemented by a thin Discord
// webhook poster.
type AlertNotifier interface {
	PostHWIDCollision(ctx context.Context, userID uint, others []uint)
}

// CommandHandler lets the bot (C11) hook into chat message dispatch
// without the gateway importing the bot package directly.
type CommandHandler interface {
	HandlePublic(ctx context.Context, sender *presence.Presence, content string) bool
	HandlePrivateToBot(ctx context.Context, sender *presence.Presence, content string)
}

// Gateway holds every dependency the session gateway's HTTP handlers
// need, threaded explicitly per the "Globals/singletons" design note
// rather than read from package-level state.
type Gateway struct {
	DB       *gorm.DB
	Registry *presence.Registry
	Channels *channels.Manager
	Geo      *geo.Service
	Stats    StatsProvider
	Alerts   AlertNotifier

	Debug           bool
	PresenceTimeout time.Duration

	botMu sync.RWMutex
	bot   CommandHandler
}

// New constructs a Gateway. Stats/Alerts/bot may be wired after
// construction via their setters, since the bot is itself a presence
// registered through this same gateway (§9 cyclic-ownership note).
func New(db *gorm.DB, registry *presence.Registry, chanMgr *channels.Manager, geoSvc *geo.Service, stats StatsProvider, alerts AlertNotifier, debug bool, presenceTimeout time.Duration) *Gateway {
	return &Gateway{
		DB:              db,
		Registry:        registry,
		Channels:        chanMgr,
		Geo:             geoSvc,
		Stats:           stats,
		Alerts:          alerts,
		Debug:           debug,
		PresenceTimeout: presenceTimeout,
	}
}

// SetBot wires the bot command handler in after both it and the
// gateway exist, resolving the cyclic construction order described in
// §9.
func (g *Gateway) SetBot(b CommandHandler) {
	g.botMu.Lock()
	g.bot = b
	g.botMu.Unlock()
}

func (g *Gateway) botHandler() CommandHandler {
	g.botMu.RLock()
	defer g.botMu.RUnlock()
	return g.bot
}

// HandleRequest is the single POST endpoint's entry point (§4.10):
// requests without an osu-token header are logins, otherwise frame
// batches.
func (g *Gateway) HandleRequest(c *fiber.Ctx) error {
	token := c.Get("osu-token")
	if token == "" {
		return g.handleLogin(c)
	}
	return g.handleFrameBatch(c, token)
}

// sweepStale evicts expired presences (other than the bot) and tears
// down their channel memberships and spectator links, broadcasting
// their logout — the lazy per-request sweep of §4.10 step 1.
func (g *Gateway) sweepStale() {
	bot := g.Registry.Bot()
	for _, p := range g.Registry.Sweep(g.PresenceTimeout) {
		if bot != nil && p == bot {
			continue
		}
		g.disposePresence(p)
	}
}

// disposePresence implements dispose(token) from §4.8: remove, clean
// up channel memberships and spectator links, broadcast UserLogout.
func (g *Gateway) disposePresence(p *presence.Presence) {
	g.Channels.PartAll(p)

	if host, spectators := p.ClearSpectatorLinks(); host != nil || len(spectators) > 0 {
		if host != nil {
			g.stopSpectatingFrames(p, host)
		}
		for _, s := range spectators {
			g.stopSpectatingFrames(s, p)
		}
	}

	g.Registry.Remove(p.Token)
	g.Registry.Broadcast(buildUserLogout(p.UserID), nil)
}

func logGatewayError(action string, err error) {
	if err != nil {
		log.Printf("gateway: %s failed: %v", action, err)
	}
}
