package gateway

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"dubserver/internal/models"
	"dubserver/internal/presence"
	"dubserver/internal/protocol"
)

const restartRetryMillis = 1000

// handleFrameBatch implements the frame-batch half of §4.10's single
// endpoint: sweep stale presences, resolve the caller's presence by its
// osu-token, touch its liveness, decode and dispatch every frame in the
// body, then drain and return its outbound queue.
func (g *Gateway) handleFrameBatch(c *fiber.Ctx, token string) error {
	g.sweepStale()

	p, ok := g.Registry.ByToken(token)
	if !ok {
		return c.Send(protocol.BuildBanchoRestart(restartRetryMillis))
	}
	p.Touch()

	frames, err := protocol.DecodeAllFrames(c.Body())
	if err != nil {
		logGatewayError("decode frame batch", err)
	}

	ctx := c.UserContext()
	for _, f := range frames {
		g.dispatchFrame(ctx, p, f)
	}

	return c.Send(p.Dequeue())
}

func (g *Gateway) dispatchFrame(ctx context.Context, p *presence.Presence, f protocol.Frame) {
	switch f.ID {
	case protocol.OsuPing:
		// no-op: Touch() already refreshed liveness.

	case protocol.OsuUserRequestStatusUpdate:
		g.enqueueOwnStats(ctx, p)

	case protocol.OsuUserChangeAction:
		g.handleChangeAction(ctx, p, f.Payload)

	case protocol.OsuUserLogout:
		g.disposePresence(p)

	case protocol.OsuUserChannelJoin:
		r := protocol.NewReader(f.Payload)
		if name, err := r.ReadString(); err == nil {
			logGatewayError("channel join", g.Channels.Join(name, p))
		}

	case protocol.OsuUserChannelPart:
		r := protocol.NewReader(f.Payload)
		if name, err := r.ReadString(); err == nil {
			logGatewayError("channel part", g.Channels.Part(name, p))
		}

	case protocol.OsuSendPublicMessage:
		g.handlePublicMessage(ctx, p, f.Payload)

	case protocol.OsuSendPrivateMessage:
		g.handlePrivateMessage(ctx, p, f.Payload)

	case protocol.OsuUserStatsRequest:
		g.handleStatsRequest(p, f.Payload)

	case protocol.OsuSpectateStart:
		r := protocol.NewReader(f.Payload)
		if hostID, err := r.ReadI32(); err == nil {
			g.handleSpectateStart(p, uint(hostID))
		}

	case protocol.OsuSpectateStop:
		g.handleSpectateStop(p)

	case protocol.OsuSpectateFrames:
		g.handleSpectateFrames(p, f.Payload)

	default:
		logGatewayError("unhandled packet id", fmt.Errorf("packet id %d", f.ID))
	}
}

// enqueueOwnStats answers OSU_USER_REQUEST_STATUS_UPDATE (§4.10): refresh
// the caller's cached stats and hand back its own UserStats frame.
func (g *Gateway) enqueueOwnStats(ctx context.Context, p *presence.Presence) {
	snapshot, err := g.Stats.Refresh(ctx, p.UserID, p.Status().Mode)
	if err != nil {
		logGatewayError("refresh own stats", err)
		return
	}
	p.SetStats(snapshot)
	p.Enqueue(buildUserStatsPacket(p))
}

// handleChangeAction stores the client's reported status and broadcasts
// it to every other online presence as a UserStats frame (§4.7, §4.10).
func (g *Gateway) handleChangeAction(ctx context.Context, p *presence.Presence, payload []byte) {
	action, err := protocol.ReadClientChangeAction(protocol.NewReader(payload))
	if err != nil {
		logGatewayError("decode change action", err)
		return
	}

	p.SetStatus(presence.Status{
		ActionID:    action.OnlineStatus,
		Description: action.Description,
		BeatmapMD5:  action.BeatmapMD5,
		BeatmapID:   action.BeatmapID,
		Mods:        action.Mods,
		Mode:        models.Mode(action.Mode),
	})

	if snapshot, err := g.Stats.Refresh(ctx, p.UserID, models.Mode(action.Mode)); err == nil {
		p.SetStats(snapshot)
	}

	g.Registry.Broadcast(buildUserStatsPacket(p), nil)
}

func buildUserStatsPacket(p *presence.Presence) []byte {
	status := p.Status()
	stats := p.Stats()
	return protocol.BuildUserStats(protocol.UserStatsPayload{
		UserID:      int32(p.UserID),
		Action:      status.ActionID,
		InfoText:    status.Description,
		BeatmapMD5:  status.BeatmapMD5,
		Mods:        status.Mods,
		Mode:        uint8(status.Mode),
		BeatmapID:   status.BeatmapID,
		RankedScore: stats.RankedScore,
		Accuracy:    float32(stats.AvgAccuracy),
		Playcount:   int32(stats.Playcount),
		TotalScore:  stats.TotalScore,
		Rank:        stats.Rank,
		PP:          int32(stats.Performance),
	})
}

// handlePublicMessage applies the repeat-message silence hook (§4.11),
// routes the line through the channel manager, then offers the bot a
// chance to react to it (§4.11 command dispatch).
func (g *Gateway) handlePublicMessage(ctx context.Context, p *presence.Presence, payload []byte) {
	msg, err := protocol.ReadBanchoMessage(protocol.NewReader(payload))
	if err != nil {
		logGatewayError("decode public message", err)
		return
	}

	if silenced, remaining := p.RegisterMessage(msg.Content); silenced {
		g.Registry.Broadcast(protocol.BuildUserSilenced(int32(p.UserID)), nil)
		p.Enqueue(protocol.BuildSilenceEnd(int32(remaining)))
		return
	}

	logGatewayError("send public message", g.Channels.SendPublic(p, msg.Target, msg.Content))

	if bot := g.botHandler(); bot != nil {
		bot.HandlePublic(ctx, p, msg.Content)
	}
}

// handlePrivateMessage routes a DM, then — if the target is the bot's
// presence — lets it react as a command (§4.11).
func (g *Gateway) handlePrivateMessage(ctx context.Context, p *presence.Presence, payload []byte) {
	msg, err := protocol.ReadBanchoMessage(protocol.NewReader(payload))
	if err != nil {
		logGatewayError("decode private message", err)
		return
	}

	logGatewayError("send private message", g.Channels.SendPrivate(p, models.NormalizeUsername(msg.Target), msg.Content, g.Registry))

	if bot := g.Registry.Bot(); bot != nil && models.NormalizeUsername(msg.Target) == bot.UsernameSafe {
		if handler := g.botHandler(); handler != nil {
			handler.HandlePrivateToBot(ctx, p, msg.Content)
		}
	}
}

// handleStatsRequest answers OSU_USER_STATS_REQUEST: a vector of user
// ids whose current UserStats frame the caller wants.
func (g *Gateway) handleStatsRequest(p *presence.Presence, payload []byte) {
	ids, err := protocol.NewReader(payload).ReadI32Slice()
	if err != nil {
		logGatewayError("decode stats request", err)
		return
	}
	for _, id := range ids {
		if target, ok := g.Registry.ByUserID(uint(id)); ok {
			p.Enqueue(buildUserStatsPacket(target))
		}
	}
}

// handleSpectateStart links p as a spectator of hostID, notifies both
// sides, and lazily creates/joins the `#spec_<hostID>` chat room
// (§4.10 "Spectator semantics").
func (g *Gateway) handleSpectateStart(p *presence.Presence, hostID uint) {
	host, ok := g.Registry.ByUserID(hostID)
	if !ok {
		return
	}

	p.StartSpectating(host)
	host.Enqueue(protocol.BuildSpectatorJoined(int32(p.UserID)))
	for _, fellow := range host.Spectators() {
		if fellow == p {
			continue
		}
		fellow.Enqueue(protocol.BuildFellowSpectatorJoined(int32(p.UserID)))
	}

	room := g.Channels.CreatePrivateChannel(fmt.Sprintf("#spec_%d", host.UserID), "spectator room")
	logGatewayError("join spectator room", g.Channels.Join(room.Name, host))
	logGatewayError("join spectator room", g.Channels.Join(room.Name, p))
}

// handleSpectateStop unlinks p from whoever it was spectating and emits
// the symmetric SpectatorLeft/FellowSpectatorLeft pair (§4.10).
func (g *Gateway) handleSpectateStop(p *presence.Presence) {
	host := p.StopSpectating()
	if host == nil {
		return
	}
	g.stopSpectatingFrames(p, host)
}

// stopSpectatingFrames notifies host and its remaining spectators that
// viewer stopped spectating, and parts viewer from the room once it's
// the last spectator gone.
func (g *Gateway) stopSpectatingFrames(viewer, host *presence.Presence) {
	host.Enqueue(protocol.BuildSpectatorLeft(int32(viewer.UserID)))
	for _, fellow := range host.Spectators() {
		fellow.Enqueue(protocol.BuildFellowSpectatorLeft(int32(viewer.UserID)))
	}

	roomName := fmt.Sprintf("#spec_%d", host.UserID)
	logGatewayError("part spectator room", g.Channels.Part(roomName, viewer))
	if len(host.Spectators()) == 0 {
		logGatewayError("part spectator room", g.Channels.Part(roomName, host))
	}
}

// handleSpectateFrames relays replay frame bytes verbatim to every
// current spectator (§4.10).
func (g *Gateway) handleSpectateFrames(p *presence.Presence, payload []byte) {
	frame := protocol.BuildSpectatorFrames(payload)
	for _, s := range p.Spectators() {
		s.Enqueue(frame)
	}
}
