// Package protocol implements the packet codec (C7): a length-prefixed
// typed-frame reader/writer over the game's binary protocol.
package protocol

// PacketID enumerates the known frame types. The numeric values leak
// onto the wire and must be preserved exactly once assigned (§9
// "Enum-by-integer"); only ProtocolVersion's payload value (19, not its
// packet id) is pinned by the spec, the ids themselves are this
// server's own internally-consistent catalog.
type PacketID uint16

// Client -> server packet ids, dispatched by the session gateway (§4.10).
const (
	OsuUserChangeAction        PacketID = 0
	OsuSendPublicMessage       PacketID = 1
	OsuUserLogout              PacketID = 2
	OsuUserRequestStatusUpdate PacketID = 3
	OsuPing                    PacketID = 4
	OsuSendPrivateMessage      PacketID = 25
	OsuUserChannelJoin         PacketID = 30
	OsuUserChannelPart         PacketID = 31
	OsuUserStatsRequest        PacketID = 32
	OsuSpectateStart           PacketID = 49
	OsuSpectateStop            PacketID = 50
	OsuSpectateFrames          PacketID = 51
)

// Server -> client packet ids.
const (
	Login                 PacketID = 5
	SendMessage           PacketID = 7
	UserPresence          PacketID = 8
	UserStats             PacketID = 11
	UserLogout            PacketID = 12
	SpectatorJoined       PacketID = 13
	SpectatorLeft         PacketID = 14
	SpectatorFrames       PacketID = 15
	FellowSpectatorJoined PacketID = 16
	FellowSpectatorLeft   PacketID = 17
	ProtocolVersion       PacketID = 19
	ChannelJoin           PacketID = 20
	ChannelKick           PacketID = 21
	ChannelInfo           PacketID = 22
	ChannelInfoEnd        PacketID = 23
	Notification          PacketID = 24
	UserSilenced          PacketID = 27
	SilenceEnd            PacketID = 34
	BanchoPrivileges      PacketID = 71
	BanchoRestart         PacketID = 86

	// Match-lobby updates (§4.7, §SPEC_FULL supplemented feature 6):
	// the catalog's ids for the lobby/slot relay; full match simulation
	// is out of scope, only join/part broadcast of slot state is relayed.
	MatchNew            PacketID = 60
	MatchDisband        PacketID = 61
	MatchJoinSuccess    PacketID = 62
	MatchJoinFail       PacketID = 63
	MatchUpdate         PacketID = 64
	MatchTransferHost   PacketID = 65
	MatchChangeSettings PacketID = 66
	MatchStart          PacketID = 67
	MatchScoreUpdate    PacketID = 68
	MatchComplete       PacketID = 69
)

// ProtocolVersionValue is the payload carried by the ProtocolVersion
// packet at login (§4.8, §8 scenario 1), the one value the spec pins.
const ProtocolVersionValue int32 = 19

// Frame is a single decoded packet: id plus raw payload bytes.
type Frame struct {
	ID      PacketID
	Payload []byte
}
