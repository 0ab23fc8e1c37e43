// Package presence implements the presence registry (C8): the process-
// wide session state for every logged-in client, adapted from the
// teacher's websocket Hub/Client/ConnectionManager idiom
// (internal/notifications/hub.go, client.go, connection_manager.go) —
// generalized from a push-over-websocket outbound channel to a
// poll-over-HTTP outbound byte queue, since the game's protocol is
// request/response rather than a persistent socket (§4.7, §4.10).
package presence

import (
	"sync"
	"time"

	"dubserver/internal/models"
)

// HWID is the per-connection machine fingerprint reported at login.
type HWID struct {
	Plain string
	Mac   string
	Uid   string
	Disk  string
}

// ClientData is the connection metadata reported at login (§3 Presence).
type ClientData struct {
	Version    string
	UTCOffset  int32
	HWID       HWID
}

// Status is the presence's current in-game status, mutated by
// OSU_USER_CHANGE_ACTION (§4.10).
type Status struct {
	ActionID    uint8
	Description string
	BeatmapMD5  string
	BeatmapID   int32
	Mods        uint32
	Mode        models.Mode
}

// StatsSnapshot is the cached aggregate stats a presence carries so the
// gateway doesn't hit storage on every status broadcast.
type StatsSnapshot struct {
	RankedScore int64
	TotalScore  int64
	AvgAccuracy float64
	Playcount   int64
	Performance int64
	MaxCombo    int32
	Rank        int32
}

// Geo is the login-time geolocation of the connecting client (§4.10).
type Geo struct {
	CountryCode string
	CountryByte uint8
	Lat         float32
	Lon         float32
}

// Presence is the server-side session state of one logged-in client.
// Each field group uses the lock discipline specified in §5: the queue
// is a plain mutex'd byte buffer; status/stats use reader-preferring
// (RWMutex) locks; spectator relationships and moderation counters use
// plain mutexes.
type Presence struct {
	Token        string
	UserID       uint
	Username     string
	UsernameSafe string
	Permissions  uint32
	Restricted   bool

	ClientData ClientData
	Geo        Geo

	statusMu sync.RWMutex
	status   Status

	statsMu sync.RWMutex
	stats   StatsSnapshot

	queueMu sync.Mutex
	queue   []byte

	specMu      sync.Mutex
	spectating  *Presence
	spectators  map[uint]*Presence

	modMu           sync.Mutex
	previousMessage string
	repeatCount     int
	silencedUntil   int64 // epoch seconds

	pingMu   sync.Mutex
	lastPing time.Time
}

// New constructs a presence for a freshly-authenticated user.
func New(token string, user *models.User, cd ClientData, geo Geo) *Presence {
	return &Presence{
		Token:        token,
		UserID:       user.ID,
		Username:     user.Username,
		UsernameSafe: models.NormalizeUsername(user.Username),
		Permissions:  user.Permissions,
		Restricted:   user.IsRestricted(),
		ClientData:   cd,
		Geo:          geo,
		spectators:   make(map[uint]*Presence),
		lastPing:     time.Now(),
	}
}

// Status returns a copy of the presence's current client status.
func (p *Presence) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

func (p *Presence) SetStatus(s Status) {
	p.statusMu.Lock()
	p.status = s
	p.statusMu.Unlock()
}

func (p *Presence) Stats() StatsSnapshot {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

func (p *Presence) SetStats(s StatsSnapshot) {
	p.statsMu.Lock()
	p.stats = s
	p.statsMu.Unlock()
}

// maxQueueBytes bounds the outbound queue so a client that stops
// polling entirely does not grow it without bound; once exceeded, the
// oldest bytes are dropped rather than the connection, since a dropped
// frame at worst costs one stale status update which the next
// broadcast (or the client's own refresh request) repairs.
const maxQueueBytes = 1 << 20 // 1 MiB

// Enqueue appends packet bytes to the presence's outbound queue.
func (p *Presence) Enqueue(packet []byte) {
	if len(packet) == 0 {
		return
	}
	p.queueMu.Lock()
	p.queue = append(p.queue, packet...)
	if len(p.queue) > maxQueueBytes {
		p.queue = p.queue[len(p.queue)-maxQueueBytes:]
	}
	p.queueMu.Unlock()
}

// Dequeue atomically swaps out the accumulated outbound bytes and
// returns them, the per-request drain described in §4.8.
func (p *Presence) Dequeue() []byte {
	p.queueMu.Lock()
	out := p.queue
	p.queue = nil
	p.queueMu.Unlock()
	return out
}

// Touch refreshes last_ping to now, called on every frame-batch request.
func (p *Presence) Touch() {
	p.pingMu.Lock()
	p.lastPing = time.Now()
	p.pingMu.Unlock()
}

// Expired reports whether last_ping is older than timeout.
func (p *Presence) Expired(timeout time.Duration) bool {
	p.pingMu.Lock()
	defer p.pingMu.Unlock()
	return time.Since(p.lastPing) > timeout
}

// SilencedUntil returns the epoch second the presence's silence expires,
// 0 if not silenced.
func (p *Presence) SilencedUntil() int64 {
	p.modMu.Lock()
	defer p.modMu.Unlock()
	return p.silencedUntil
}

func (p *Presence) IsSilenced() bool {
	return p.SilencedUntil() > time.Now().Unix()
}

// RegisterMessage implements the spam-moderation hook of §4.11: tracks
// consecutive identical public messages, returning true exactly once
// per silence trigger (the 6th identical message).
func (p *Presence) RegisterMessage(content string) (silenced bool, remaining int64) {
	p.modMu.Lock()
	defer p.modMu.Unlock()

	if content != "" && content == p.previousMessage {
		p.repeatCount++
	} else {
		p.previousMessage = content
		p.repeatCount = 0
	}

	if p.repeatCount >= 5 {
		p.silencedUntil = time.Now().Add(10 * time.Minute).Unix()
		p.repeatCount = 0
		return true, p.silencedUntil - time.Now().Unix()
	}
	return false, 0
}

// StartSpectating links p as a spectator of host and host as spectating
// target of p, per §4.10's spectator semantics.
func (p *Presence) StartSpectating(host *Presence) {
	p.specMu.Lock()
	p.spectating = host
	p.specMu.Unlock()

	host.specMu.Lock()
	host.spectators[p.UserID] = p
	host.specMu.Unlock()
}

// StopSpectating unlinks p from whatever it was spectating, returning
// the former host (nil if it wasn't spectating anyone).
func (p *Presence) StopSpectating() *Presence {
	p.specMu.Lock()
	host := p.spectating
	p.spectating = nil
	p.specMu.Unlock()

	if host != nil {
		host.specMu.Lock()
		delete(host.spectators, p.UserID)
		host.specMu.Unlock()
	}
	return host
}

// Spectating returns who p is currently spectating, if anyone.
func (p *Presence) Spectating() *Presence {
	p.specMu.Lock()
	defer p.specMu.Unlock()
	return p.spectating
}

// Spectators returns a snapshot of p's current spectators.
func (p *Presence) Spectators() []*Presence {
	p.specMu.Lock()
	defer p.specMu.Unlock()
	out := make([]*Presence, 0, len(p.spectators))
	for _, s := range p.spectators {
		out = append(out, s)
	}
	return out
}

// ClearSpectatorLinks drops every spectator relationship p is party to,
// used when a user is restricted mid-session (§4.12 user:restricted).
func (p *Presence) ClearSpectatorLinks() (formerHost *Presence, formerSpectators []*Presence) {
	formerHost = p.StopSpectating()
	p.specMu.Lock()
	formerSpectators = make([]*Presence, 0, len(p.spectators))
	for _, s := range p.spectators {
		formerSpectators = append(formerSpectators, s)
	}
	p.spectators = make(map[uint]*Presence)
	p.specMu.Unlock()
	for _, s := range formerSpectators {
		s.specMu.Lock()
		s.spectating = nil
		s.specMu.Unlock()
	}
	return formerHost, formerSpectators
}
