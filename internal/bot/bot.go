// Package bot implements the bot (C11): a normal presence for user-id 1
// that dispatches `!`-prefixed chat commands and posts PP-at-accuracy
// reports for `!np`/`!with`/`!acc`. Grounded on the teacher's command-
// dispatch-by-prefix style in its Discord cog layer, generalized from a
// Discord message handler to the in-game chat protocol (C9).
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"dubserver/internal/beatmaps"
	"dubserver/internal/channels"
	"dubserver/internal/models"
	"dubserver/internal/performance"
	"dubserver/internal/presence"

	"gorm.io/gorm"
)

// BotUsername is the bot's fixed display name (§4.11).
const BotUsername = "Mio"

// npPattern matches the "/<digits> " substring a client's !np-style
// private message embeds, e.g. "is listening to ... /123 ...".
var npPattern = regexp.MustCompile(`/(\d+)\s`)

var reportTargets = []float64{1.0, 0.99, 0.98}

// Bot dispatches chat commands and keeps a per-user "current beatmap"
// memory for PP reports.
type Bot struct {
	DB         *gorm.DB
	Channels   *channels.Manager
	Registry   *presence.Registry
	Beatmaps   *beatmaps.Resolver
	Calculator performance.Calculator
	HTTPClient *http.Client
	DiscordWebhookURL string

	mu           sync.Mutex
	userBeatmaps map[uint]*models.Beatmap
}

func New(db *gorm.DB, chanMgr *channels.Manager, registry *presence.Registry, resolver *beatmaps.Resolver, calc performance.Calculator, discordWebhookURL string) *Bot {
	return &Bot{
		DB:                db,
		Channels:          chanMgr,
		Registry:          registry,
		Beatmaps:          resolver,
		Calculator:        calc,
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		DiscordWebhookURL: discordWebhookURL,
		userBeatmaps:      make(map[uint]*models.Beatmap),
	}
}

// HandlePublic implements gateway.CommandHandler: it reacts to `!`
// commands said in any public channel. The return value reports
// whether the line was consumed as a command.
func (b *Bot) HandlePublic(ctx context.Context, sender *presence.Presence, content string) bool {
	if !strings.HasPrefix(content, "!") {
		return false
	}
	reply := b.dispatch(ctx, sender, content)
	if reply == "" {
		return true
	}
	bot := b.Registry.Bot()
	if bot == nil {
		return true
	}
	_ = b.Channels.SendPrivate(bot, sender.UsernameSafe, reply, b.Registry)
	return true
}

// HandlePrivateToBot implements gateway.CommandHandler: any DM sent to
// the bot is either a `!` command or an !np-style "now playing" line.
func (b *Bot) HandlePrivateToBot(ctx context.Context, sender *presence.Presence, content string) {
	bot := b.Registry.Bot()
	if bot == nil {
		return
	}

	var reply string
	switch {
	case strings.HasPrefix(content, "!"):
		reply = b.dispatch(ctx, sender, content)
	default:
		reply = b.handleNowPlaying(ctx, sender, content)
	}
	if reply != "" {
		_ = b.Channels.SendPrivate(bot, sender.UsernameSafe, reply, b.Registry)
	}
}

func (b *Bot) dispatch(ctx context.Context, sender *presence.Presence, content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	args := fields[1:]

	switch cmd {
	case "roll":
		return b.cmdRoll(args)
	case "np":
		return b.reportCurrentBeatmap(ctx, sender, sender.Status().Mods)
	case "with":
		return b.cmdWith(ctx, sender, args)
	case "acc":
		return b.cmdAcc(ctx, sender, args)
	case "map":
		return b.cmdMap(ctx, sender, args)
	default:
		return ""
	}
}

// cmdRoll implements `!roll [max=100]`: a random integer in [0,max).
func (b *Bot) cmdRoll(args []string) string {
	max := 100
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
			max = parsed
		}
	}
	return fmt.Sprintf("%s rolls %d point(s)", BotUsername, rollN(max))
}

// handleNowPlaying scans a private message to the bot for a "/<id> "
// beatmap reference, remembers it as the sender's current beatmap, and
// immediately replies with a PP report (§4.11 !np).
func (b *Bot) handleNowPlaying(ctx context.Context, sender *presence.Presence, content string) string {
	match := npPattern.FindStringSubmatch(content)
	if match == nil {
		return ""
	}
	id, err := strconv.Atoi(match[1])
	if err != nil {
		return ""
	}
	bm, err := b.Beatmaps.ByID(ctx, uint32(id))
	if err != nil || bm == nil {
		return ""
	}
	b.setCurrentBeatmap(sender.UserID, bm)
	return b.reportCurrentBeatmap(ctx, sender, sender.Status().Mods)
}

// cmdWith implements `!with <mods>`: a PP report for the remembered
// beatmap under the given mod combination.
func (b *Bot) cmdWith(ctx context.Context, sender *presence.Presence, args []string) string {
	if len(args) == 0 {
		return "usage: !with <mods>"
	}
	mods := parseMods(args[0])
	return b.reportCurrentBeatmap(ctx, sender, mods)
}

// cmdAcc implements `!acc <accuracy>`: a PP report at a single target
// accuracy using the sender's current in-game mods.
func (b *Bot) cmdAcc(ctx context.Context, sender *presence.Presence, args []string) string {
	if len(args) == 0 {
		return "usage: !acc <accuracy>"
	}
	target, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "couldn't parse that accuracy"
	}
	bm := b.currentBeatmap(sender.UserID)
	if bm == nil {
		return "no beatmap remembered yet — send me a !np first"
	}
	file, err := b.Beatmaps.File(ctx, bm.BeatmapID)
	if err != nil {
		return "couldn't load that beatmap's file"
	}
	points := b.Calculator.AtAccuracies(performance.Input{
		BeatmapFile: file, Mods: sender.Status().Mods, Mode: bm.GameMode,
	}, []float64{target / 100.0})
	if len(points) == 0 {
		return "couldn't compute pp for that accuracy"
	}
	p := points[0]
	return fmt.Sprintf("%s [%s - %s]: %.2f%% → %.0fpp (%.2f★)", bm.Artist, bm.Title, bm.Version, target, p.PP, p.Stars)
}

// cmdMap implements `!map <loved|ranked|unranked> <set|map>`, restricted
// to beatmap moderators (§4.11, permissions&4). Status changes that move
// a beatmap out of Ranked force every prior Best score on it back to
// Unranked so ranking recomputes from scratch.
func (b *Bot) cmdMap(ctx context.Context, sender *presence.Presence, args []string) string {
	if sender.Permissions&models.PermBeatmapModerator == 0 {
		return "you don't have permission to do that"
	}
	if len(args) < 2 {
		return "usage: !map <loved|ranked|unranked> <set|map>"
	}

	status, ok := parseMapStatus(args[0])
	if !ok {
		return "unknown status: " + args[0]
	}
	scope := args[1]

	bm := b.currentBeatmap(sender.UserID)
	if bm == nil {
		return "no beatmap remembered yet — send me a !np first"
	}

	var beatmaps []models.Beatmap
	if scope == "set" {
		if err := b.DB.Where("parent_id = ?", bm.ParentID).Find(&beatmaps).Error; err != nil {
			return "failed to load the set"
		}
	} else {
		beatmaps = []models.Beatmap{*bm}
	}

	for i := range beatmaps {
		prior := beatmaps[i].Status
		beatmaps[i].Status = status
		if err := b.DB.Save(&beatmaps[i]).Error; err != nil {
			continue
		}
		if prior == models.BeatmapRanked && status != models.BeatmapRanked {
			b.DB.Model(&models.Score{}).
				Where("beatmap_checksum = ? AND status IN ?", beatmaps[i].Checksum, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).
				Update("status", models.ScoreUnranked)
		}
	}

	message := fmt.Sprintf("%s set %s to %s", sender.Username, bm.Title, args[0])
	if bot := b.Registry.Bot(); bot != nil {
		_ = b.Channels.SendPublic(bot, "#announce", message)
	}
	b.postDiscordEmbed(ctx, message)
	return fmt.Sprintf("updated %d beatmap(s) to %s", len(beatmaps), args[0])
}

func (b *Bot) reportCurrentBeatmap(ctx context.Context, sender *presence.Presence, mods uint32) string {
	bm := b.currentBeatmap(sender.UserID)
	if bm == nil {
		return "no beatmap remembered yet — send me a !np first"
	}
	file, err := b.Beatmaps.File(ctx, bm.BeatmapID)
	if err != nil {
		return "couldn't load that beatmap's file"
	}
	points := b.Calculator.AtAccuracies(performance.Input{BeatmapFile: file, Mods: mods, Mode: bm.GameMode}, reportTargets)
	if len(points) == 0 {
		return "couldn't compute pp for that map"
	}
	parts := make([]string, 0, len(points))
	for _, p := range points {
		parts = append(parts, fmt.Sprintf("%.0f%%: %.0fpp", p.Accuracy*100, p.PP))
	}
	return fmt.Sprintf("%s [%s - %s] (%.2f★): %s", bm.Artist, bm.Title, bm.Version, points[0].Stars, strings.Join(parts, ", "))
}

func (b *Bot) setCurrentBeatmap(userID uint, bm *models.Beatmap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userBeatmaps[userID] = bm
}

func (b *Bot) currentBeatmap(userID uint) *models.Beatmap {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userBeatmaps[userID]
}

func parseMapStatus(name string) (models.BeatmapStatus, bool) {
	switch strings.ToLower(name) {
	case "loved":
		return models.BeatmapLoved, true
	case "ranked":
		return models.BeatmapRanked, true
	case "unranked", "pending":
		return models.BeatmapPending, true
	default:
		return models.BeatmapUnknown, false
	}
}

// modBits maps the client's two-letter mod shorthand to its protocol
// bit, the standard osu! mod bitmask table.
var modBits = map[string]uint32{
	"nf": 1 << 0, "ez": 1 << 1, "td": 1 << 2, "hd": models.ModsHidden,
	"hr": 1 << 4, "sd": 1 << 5, "dt": 1 << 6, "rx": models.ModsRelaxBit,
	"ht": 1 << 8, "nc": 1 << 9, "fl": models.ModsFlashlight, "so": 1 << 12,
}

// parseMods turns a concatenated mod shorthand string (e.g. "HDHR")
// into the corresponding bitfield.
func parseMods(s string) uint32 {
	s = strings.ToLower(s)
	var bits uint32
	for i := 0; i+1 < len(s); i += 2 {
		if bit, ok := modBits[s[i:i+2]]; ok {
			bits |= bit
		}
	}
	return bits
}

// rollN returns a random integer in [0,max), falling back to 0 for a
// non-positive max rather than panicking.
func rollN(max int) int {
	if max <= 0 {
		return 0
	}
	return rand.Intn(max)
}

// postDiscordEmbed fires a best-effort webhook notification for map
// status changes; a missing/unreachable webhook is silently ignored,
// matching the teacher's fire-and-forget outbound-notification style.
func (b *Bot) postDiscordEmbed(ctx context.Context, message string) {
	if b.DiscordWebhookURL == "" {
		return
	}
	body, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{{"description": message}},
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.DiscordWebhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
