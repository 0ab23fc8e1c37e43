package models

import (
	"strings"
	"time"
)

// Permission bits, reserved positions per the account's permissions bitfield.
const (
	PermManager         uint32 = 1 << 0
	PermBeatmapModerator uint32 = 1 << 2
	PermRestricted       uint32 = 1 << 3
)

// Flag bits, reserved positions per the account's flags bitfield.
const (
	FlagVerified          uint32 = 1 << 1
	FlagPendingVerification uint32 = 1 << 5
)

// User is the account row shared by the web API, the score engine and the
// session gateway.
type User struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	Username        string `gorm:"size:32;uniqueIndex" json:"username"`
	UsernameSafe    string `gorm:"size:32;uniqueIndex" json:"-"`
	PasswordHash    string `gorm:"size:255" json:"-"`
	Country         string `gorm:"size:2" json:"country"`
	Permissions     uint32 `json:"permissions"`
	Flags           uint32 `json:"flags"`
	Coins           int64  `json:"coins"`
	DonorUntil      *time.Time `json:"donor_until,omitempty"`
	BackgroundURL   string     `gorm:"size:512" json:"background_url,omitempty"`
	UsernameHistory string     `gorm:"type:text" json:"-"`
	UserpageContent string     `gorm:"type:text" json:"userpage_content,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastSeen        time.Time  `json:"last_seen"`
}

// NormalizeUsername lowercases and replaces spaces with underscores, the
// canonical "safe" form used for uniqueness and cache keys.
func NormalizeUsername(username string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(username)), " ", "_")
}

// IsRestricted reports whether the account is restricted: the restricted
// permission bit is set and the account has no pending-verification flag
// clearing it back to normal standing.
func (u *User) IsRestricted() bool {
	return u.Permissions&PermRestricted != 0 && u.Flags&FlagPendingVerification == 0
}

func (u *User) IsVerified() bool {
	return u.Flags&FlagVerified != 0
}

func (u *User) IsManager() bool {
	return u.Permissions&PermManager != 0
}

func (u *User) IsBeatmapModerator() bool {
	return u.Permissions&PermBeatmapModerator != 0
}

// Mode identifies one of the five playmodes a UserStats row is scoped to.
// Relax (4) is a parallel ranking for std play with the Relax mod set.
type Mode uint8

const (
	ModeStd Mode = iota
	ModeTaiko
	ModeCtb
	ModeMania
	ModeRelax
)

func (m Mode) String() string {
	switch m {
	case ModeStd:
		return "std"
	case ModeTaiko:
		return "taiko"
	case ModeCtb:
		return "ctb"
	case ModeMania:
		return "mania"
	case ModeRelax:
		return "relax"
	default:
		return "unknown"
	}
}

// UserStats is the per-(user, mode) aggregate row.
type UserStats struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	UserID       uint    `gorm:"uniqueIndex:idx_user_mode" json:"user_id"`
	Mode         Mode    `gorm:"uniqueIndex:idx_user_mode" json:"mode"`
	RankedScore  int64   `json:"ranked_score"`
	TotalScore   int64   `json:"total_score"`
	AvgAccuracy  float64 `json:"avg_accuracy"`
	Playcount    int64   `json:"playcount"`
	Performance  int64   `json:"performance"`
	MaxCombo     int32   `json:"max_combo"`
}

// HWID is the per-user last-known machine fingerprint, used to surface
// multi-accounting collisions at login.
type HWID struct {
	UserID uint   `gorm:"primaryKey" json:"user_id"`
	Plain  string `gorm:"size:64;index" json:"plain"`
	Mac    string `gorm:"size:64;index" json:"mac"`
	Uid    string `gorm:"size:64;index" json:"uid"`
	Disk   string `gorm:"size:64;index" json:"disk"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relationship is a directed (user_id, friend_id) follow edge; a pair is
// mutual iff both directions exist.
type Relationship struct {
	UserID   uint `gorm:"primaryKey" json:"user_id"`
	FriendID uint `gorm:"primaryKey" json:"friend_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PunishmentType enumerates the kinds of moderation action recorded
// against an account.
type PunishmentType string

const (
	PunishmentRestriction   PunishmentType = "RESTRICTION"
	PunishmentTimeout       PunishmentType = "TIMEOUT"
	PunishmentUnrestriction PunishmentType = "Unrestriction"
)

type PunishmentLevel string

const (
	PunishmentLow      PunishmentLevel = "LOW"
	PunishmentMedium   PunishmentLevel = "MEDIUM"
	PunishmentCritical PunishmentLevel = "CRITICAL"
)

// Punishment is an audit row recording a moderation action.
type Punishment struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	AppliedBy    uint           `json:"applied_by"`
	AppliedTo    uint           `gorm:"index" json:"applied_to"`
	PunishmentType PunishmentType `gorm:"size:32" json:"punishment_type"`
	Level        PunishmentLevel `gorm:"size:16" json:"level"`
	Expires      bool           `json:"expires"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Note         string         `gorm:"type:text" json:"note"`
	Date         time.Time      `json:"date"`
}
