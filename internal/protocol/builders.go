package protocol

// LoginReply values, carried as the i32 payload of the Login packet.
const (
	LoginReplyInvalidCredentials int32 = -1
	LoginReplyBanned             int32 = -3
	LoginReplyNeedsSupporter     int32 = -4
	LoginReplyServerError        int32 = -5
)

// BuildLoginReplySuccess frames a successful login's user-id payload.
func BuildLoginReplySuccess(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(Login, w.Bytes())
}

func BuildLoginReplyFailure(code int32) []byte {
	w := NewWriter()
	w.WriteI32(code)
	return EncodeFrame(Login, w.Bytes())
}

func BuildNotification(message string) []byte {
	w := NewWriter()
	w.WriteString(message)
	return EncodeFrame(Notification, w.Bytes())
}

func BuildSendMessage(m BanchoMessage) []byte {
	w := NewWriter()
	WriteBanchoMessage(w, m)
	return EncodeFrame(SendMessage, w.Bytes())
}

func BuildChannelJoin(name string) []byte {
	w := NewWriter()
	w.WriteString(name)
	return EncodeFrame(ChannelJoin, w.Bytes())
}

func BuildChannelKick(name string) []byte {
	w := NewWriter()
	w.WriteString(name)
	return EncodeFrame(ChannelKick, w.Bytes())
}

// BuildChannelInfo frames one channel's listing entry: name, topic and
// current member count.
func BuildChannelInfo(name, topic string, memberCount int32) []byte {
	w := NewWriter()
	w.WriteString(name)
	w.WriteString(topic)
	w.WriteI32(memberCount)
	return EncodeFrame(ChannelInfo, w.Bytes())
}

func BuildChannelInfoEnd() []byte {
	return EncodeFrame(ChannelInfoEnd, nil)
}

func BuildSilenceEnd(remainingSeconds int32) []byte {
	w := NewWriter()
	w.WriteI32(remainingSeconds)
	return EncodeFrame(SilenceEnd, w.Bytes())
}

func BuildUserLogout(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(UserLogout, w.Bytes())
}

func BuildUserSilenced(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(UserSilenced, w.Bytes())
}

func BuildBanchoRestart(retryMillis int32) []byte {
	w := NewWriter()
	w.WriteI32(retryMillis)
	return EncodeFrame(BanchoRestart, w.Bytes())
}

func BuildBanchoPrivileges(privileges int32) []byte {
	w := NewWriter()
	w.WriteI32(privileges)
	return EncodeFrame(BanchoPrivileges, w.Bytes())
}

func BuildProtocolVersion() []byte {
	w := NewWriter()
	w.WriteI32(ProtocolVersionValue)
	return EncodeFrame(ProtocolVersion, w.Bytes())
}

// UserStatsPayload carries the fields the UserStats/UserPresence frames
// expose to other clients — a snapshot distinct from the full storage
// row.
type UserStatsPayload struct {
	UserID      int32
	Action      uint8
	InfoText    string
	BeatmapMD5  string
	Mods        uint32
	Mode        uint8
	BeatmapID   int32
	RankedScore int64
	Accuracy    float32
	Playcount   int32
	TotalScore  int64
	Rank        int32
	PP          int32
}

func BuildUserStats(p UserStatsPayload) []byte {
	w := NewWriter()
	w.WriteI32(p.UserID)
	w.WriteU8(p.Action)
	w.WriteString(p.InfoText)
	w.WriteString(p.BeatmapMD5)
	w.WriteU32(p.Mods)
	w.WriteU8(p.Mode)
	w.WriteI32(p.BeatmapID)
	w.WriteI64(p.RankedScore)
	w.WriteF32(p.Accuracy)
	w.WriteI32(p.Playcount)
	w.WriteI64(p.TotalScore)
	w.WriteI32(p.Rank)
	w.WriteI32(p.PP)
	return EncodeFrame(UserStats, w.Bytes())
}

// UserPresencePayload carries the fields the UserPresence frame exposes.
type UserPresencePayload struct {
	UserID      int32
	Username    string
	CountryByte uint8
	Permissions uint8
	Longitude   float32
	Latitude    float32
	Rank        int32
}

func BuildUserPresence(p UserPresencePayload) []byte {
	w := NewWriter()
	w.WriteI32(p.UserID)
	w.WriteString(p.Username)
	w.WriteU8(p.CountryByte)
	w.WriteU8(p.Permissions)
	w.WriteF32(p.Longitude)
	w.WriteF32(p.Latitude)
	w.WriteI32(p.Rank)
	return EncodeFrame(UserPresence, w.Bytes())
}

func BuildSpectatorJoined(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(SpectatorJoined, w.Bytes())
}

func BuildSpectatorLeft(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(SpectatorLeft, w.Bytes())
}

func BuildFellowSpectatorJoined(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(FellowSpectatorJoined, w.Bytes())
}

func BuildFellowSpectatorLeft(userID int32) []byte {
	w := NewWriter()
	w.WriteI32(userID)
	return EncodeFrame(FellowSpectatorLeft, w.Bytes())
}

// BuildSpectatorFrames relays spectator frame bytes verbatim (§4.10).
func BuildSpectatorFrames(payload []byte) []byte {
	return EncodeFrame(SpectatorFrames, payload)
}
