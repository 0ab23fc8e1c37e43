package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"dubserver/internal/auth"
	"dubserver/internal/cache"
	"dubserver/internal/config"
	"dubserver/internal/database"
	"dubserver/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// BotUserID is the fixed account id the bot (C11) logs in under,
// matching channels.BotUserID without importing that package here.
const BotUserID uint = 1

// BotUsername is the bot's account/presence name; its DM persona is
// addressed as "Mio" on the wire (§4.10's `target=="Mio"` check), which
// is this same username.
const BotUsername = "Mio"

// Options control runtime initialization behavior.
type Options struct {
	EnsureDefaultOAuthApp bool
}

// InitRuntime connects to DB and Redis, migrates the schema, and ensures
// the fixed-id bot account and default OAuth client exist — the
// generalized form of the teacher's ensureDevRootAdmin bootstrap, now
// upserting the bot account every environment needs rather than a
// development-only admin.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if err := ensureBotUser(db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap bot account: %w", err)
	}

	if opts.EnsureDefaultOAuthApp {
		clientID, clientSecret, err := defaultOAuthCredentials(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to derive default OAuth credentials: %w", err)
		}
		if err := auth.EnsureDefaultOAuthApplication(db, clientID, clientSecret); err != nil {
			return nil, nil, fmt.Errorf("failed to bootstrap default OAuth application: %w", err)
		}
	}

	return db, r, nil
}

// ensureBotUser upserts the fixed user-id-1 bot account idempotently, by
// primary key, so repeated starts are safe. The bot never authenticates
// through handleLogin — cmd/bancho constructs its presence directly and
// registers it via Registry.SetBot — but it must exist as a real User
// row so channel membership, score lookups, and moderation DMs resolve
// against a real account.
func ensureBotUser(db *gorm.DB) error {
	var existing models.User
	err := db.First(&existing, BotUserID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, herr := randomUnusablePasswordHash()
		if herr != nil {
			return herr
		}
		bot := models.User{
			ID:           BotUserID,
			Username:     BotUsername,
			UsernameSafe: models.NormalizeUsername(BotUsername),
			PasswordHash: hash,
			Permissions:  models.PermManager,
			Flags:        models.FlagVerified,
		}
		if err := db.Create(&bot).Error; err != nil {
			return err
		}
		log.Printf("bootstrap: created bot account %q (id %d)", BotUsername, BotUserID)
		return nil
	case err != nil:
		return err
	default:
		return nil
	}
}

// randomUnusablePasswordHash mints a bcrypt hash of random bytes nobody
// can reproduce, since the bot account never authenticates via password.
func randomUnusablePasswordHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return auth.HashPassword(hex.EncodeToString(raw))
}

// defaultOAuthCredentials derives the game client's OAuth client id/secret
// from the configured HMAC secret, so every instance of the same
// deployment agrees on the same client without a separate config knob.
func defaultOAuthCredentials(cfg *config.Config) (clientID, clientSecret string, err error) {
	if cfg.TokenHMACSecret == "" {
		return "", "", errors.New("TOKEN_HMAC_SECRET must be set to derive the default OAuth client")
	}
	return "osu-game-client", cfg.TokenHMACSecret, nil
}
