package models

// ChannelType classifies how a channel is joined and who may see it in
// channel listing packets.
type ChannelType uint8

const (
	ChannelPublic     ChannelType = iota
	ChannelPrivate
	ChannelMulti
	ChannelPrivateTemp
)

// ChannelRecord is the storage row loaded at startup to seed the channel
// manager's static channel set (§4.9); dynamic channels (spectator
// rooms) are never persisted.
type ChannelRecord struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"size:64;uniqueIndex" json:"name"`
	ChannelType ChannelType `json:"channel_type"`
	Description string      `gorm:"size:255" json:"description"`
}
