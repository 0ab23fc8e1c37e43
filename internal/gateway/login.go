package gateway

import (
	"context"
	"strconv"
	"strings"
	"time"

	"dubserver/internal/cache"
	"dubserver/internal/models"
	"dubserver/internal/presence"
	"dubserver/internal/protocol"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// loginLines is the three newline-terminated fields of a login request
// body (§4.10): username, legacy-hashed password, client descriptor.
type loginLines struct {
	Username     string
	PasswordHash string
	ClientDesc   string
}

func parseLoginBody(body []byte) (loginLines, bool) {
	text := strings.ReplaceAll(string(body), "\r\n", "\n")
	lines := strings.SplitN(text, "\n", 4)
	if len(lines) < 3 {
		return loginLines{}, false
	}
	return loginLines{Username: lines[0], PasswordHash: lines[1], ClientDesc: lines[2]}, true
}

// clientDescriptor is the parsed form of line 3:
// version|time_offset|_|hwid_plain:hwid_mac:hwid_uid:hwid_disk
type clientDescriptor struct {
	Version   string
	UTCOffset int32
	HWID      presence.HWID
}

func parseClientDescriptor(desc string) (clientDescriptor, bool) {
	parts := strings.Split(desc, "|")
	if len(parts) < 4 {
		return clientDescriptor{}, false
	}
	var out clientDescriptor
	out.Version = parts[0]
	if off, err := strconv.ParseInt(parts[1], 10, 32); err == nil {
		out.UTCOffset = int32(off)
	}
	hwidParts := strings.Split(parts[3], ":")
	if len(hwidParts) < 4 {
		return clientDescriptor{}, false
	}
	out.HWID = presence.HWID{Plain: hwidParts[0], Mac: hwidParts[1], Uid: hwidParts[2], Disk: hwidParts[3]}
	return out, true
}

// loginFailure writes a Notification + LoginReply::InvalidCredentials
// with the `cho-token: nicht` sentinel header (§4.10 step 1, §7).
func (g *Gateway) loginFailure(c *fiber.Ctx, code int32, message string) error {
	c.Set("cho-token", "nicht")
	body := append(protocol.BuildNotification(message), protocol.BuildLoginReplyFailure(code)...)
	return c.Send(body)
}

func (g *Gateway) handleLogin(c *fiber.Ctx) error {
	lines, ok := parseLoginBody(c.Body())
	if !ok {
		return g.loginFailure(c, protocol.LoginReplyInvalidCredentials, "Malformed login request.")
	}
	desc, ok := parseClientDescriptor(lines.ClientDesc)
	if !ok {
		return g.loginFailure(c, protocol.LoginReplyInvalidCredentials, "Malformed client descriptor.")
	}

	ctx := c.UserContext()

	var user models.User
	if err := g.DB.WithContext(ctx).First(&user, "username_safe = ?", models.NormalizeUsername(lines.Username)).Error; err != nil {
		return g.loginFailure(c, protocol.LoginReplyInvalidCredentials, "Invalid credentials.")
	}

	if !cache.ValidateCredentials(ctx, lines.Username, lines.PasswordHash, user.PasswordHash, g.Debug) {
		return g.loginFailure(c, protocol.LoginReplyInvalidCredentials, "Invalid credentials.")
	}

	g.checkHWIDCollisions(ctx, user.ID, desc.HWID)
	g.upsertHWID(ctx, user.ID, desc.HWID)

	ip := c.Get("Cf-Connecting-Ip")
	if ip == "" {
		ip = c.IP()
	}
	result := g.Geo.Resolve(ip)
	if user.Country == "" || user.Country == "XX" {
		g.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("country", result.CountryCode)
		user.Country = result.CountryCode
	}

	token := uuid.NewString()
	p := presence.New(token, &user, presence.ClientData{Version: desc.Version, UTCOffset: desc.UTCOffset, HWID: desc.HWID},
		presence.Geo{CountryCode: result.CountryCode, Lat: result.Lat, Lon: result.Lon})

	if snapshot, serr := g.Stats.Refresh(ctx, user.ID, models.ModeStd); serr == nil {
		p.SetStats(snapshot)
	}

	g.initUser(p)

	c.Set("cho-token", token)
	return c.Send(p.Dequeue())
}

// initUser implements C8's init_user operation (§4.8).
func (g *Gateway) initUser(p *presence.Presence) {
	g.Registry.Add(p)

	p.Enqueue(protocol.BuildBanchoPrivileges(int32(p.Permissions)))
	p.Enqueue(protocol.BuildProtocolVersion())
	p.Enqueue(protocol.BuildSilenceEnd(0))

	for _, ch := range g.Channels.Listing() {
		p.Enqueue(protocol.BuildChannelInfo(ch.Name, ch.Description, int32(ch.MemberCount())))
	}
	p.Enqueue(protocol.BuildChannelInfoEnd())

	logGatewayError("join #osu", g.Channels.Join("#osu", p))
	logGatewayError("join #announce", g.Channels.Join("#announce", p))

	if remaining := p.SilencedUntil() - time.Now().Unix(); remaining > 0 {
		p.Enqueue(protocol.BuildSilenceEnd(int32(remaining)))
	}

	p.Enqueue(buildUserPresencePacket(p))

	if p.Restricted {
		botSendRestrictionNotice(g, p)
		return
	}
	g.Registry.Broadcast(buildUserPresencePacket(p), p)
}

func buildUserPresencePacket(p *presence.Presence) []byte {
	stats := p.Stats()
	return protocol.BuildUserPresence(protocol.UserPresencePayload{
		UserID:      int32(p.UserID),
		Username:    p.Username,
		CountryByte: 0,
		Permissions: uint8(p.Permissions),
		Longitude:   p.Geo.Lon,
		Latitude:    p.Geo.Lat,
		Rank:        stats.Rank,
	})
}

func buildUserLogout(userID uint) []byte {
	return protocol.BuildUserLogout(int32(userID))
}

// checkHWIDCollisions implements §4.10 step 2: look up HWID rows
// matching any reported component, belonging to a different user, and
// alert when that turns up more than one distinct other user.
func (g *Gateway) checkHWIDCollisions(ctx context.Context, userID uint, h presence.HWID) {
	var rows []models.HWID
	err := g.DB.WithContext(ctx).Where("user_id <> ? AND (plain = ? OR mac = ? OR uid = ? OR disk = ?)",
		userID, h.Plain, h.Mac, h.Uid, h.Disk).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return
	}

	seen := make(map[uint]struct{})
	for _, r := range rows {
		seen[r.UserID] = struct{}{}
	}
	if len(seen) < 2 {
		return
	}
	others := make([]uint, 0, len(seen))
	for id := range seen {
		others = append(others, id)
	}
	if g.Alerts != nil {
		g.Alerts.PostHWIDCollision(ctx, userID, others)
	}
}

func (g *Gateway) upsertHWID(ctx context.Context, userID uint, h presence.HWID) {
	row := models.HWID{UserID: userID, Plain: h.Plain, Mac: h.Mac, Uid: h.Uid, Disk: h.Disk, UpdatedAt: time.Now()}
	if err := g.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		logGatewayError("upsert hwid", err)
	}
}

func botSendRestrictionNotice(g *Gateway, p *presence.Presence) {
	bot := g.Registry.Bot()
	if bot == nil {
		return
	}
	logGatewayError("notify restricted user", g.Channels.SendPrivate(bot, p.UsernameSafe,
		"Your account is restricted. Scores will not submit and you are invisible to other players.", g.Registry))
}
