package auth

import (
	"context"
	"errors"
	"time"

	"dubserver/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OAuthApplication is the minimal client-credentials registry C1's
// login operation resolves client_id/client_secret against. The game
// client ships a single well-known application; additional first-party
// tools may register their own.
type OAuthApplication struct {
	ClientID     string `gorm:"primaryKey;size:64" json:"client_id"`
	ClientSecret string `gorm:"size:128" json:"-"`
	Name         string `gorm:"size:128" json:"name"`
	AllowedGrants string `gorm:"size:128" json:"allowed_grants"` // comma-separated
}

func (a OAuthApplication) allowsGrant(grantType string) bool {
	for _, g := range splitComma(a.AllowedGrants) {
		if g == grantType {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// TokenResponse is the JSON body returned from POST /oauth/token (§6).
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Error        string `json:"error,omitempty"`
	Hint         string `json:"hint,omitempty"`
	Message      string `json:"message,omitempty"`
}

func tokenError(errCode, hint, message string) *TokenResponse {
	return &TokenResponse{Error: errCode, Hint: hint, Message: message}
}

// Service is the credential and token service (C1), threaded explicitly
// with its storage and secret rather than read from globals, per the
// "Globals/singletons" design note.
type Service struct {
	DB     *gorm.DB
	Secret []byte
	Debug  bool
}

func NewService(db *gorm.DB, secret string, debug bool) *Service {
	return &Service{DB: db, Secret: []byte(secret), Debug: debug}
}

// LoginRequest mirrors the JSON body of POST /oauth/token (§6).
type LoginRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// Login implements C1's login operation for both the password and
// refresh_token grants.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var app OAuthApplication
	if err := s.DB.WithContext(ctx).First(&app, "client_id = ?", req.ClientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tokenError("client_id", "", "Unknown client_id."), nil
		}
		return nil, err
	}
	if app.ClientSecret != req.ClientSecret {
		return tokenError("client_secret", "", "Client secret mismatch."), nil
	}
	if !app.allowsGrant(req.GrantType) {
		return tokenError("grant_type", "", "grant_type not permitted for this client."), nil
	}

	switch req.GrantType {
	case "password":
		return s.loginPassword(ctx, req)
	case "refresh_token":
		return s.loginRefresh(ctx, req)
	default:
		return tokenError("grant_type", "", "Unsupported grant_type."), nil
	}
}

func (s *Service) loginPassword(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var user models.User
	safe := models.NormalizeUsername(req.Username)
	if err := s.DB.WithContext(ctx).First(&user, "username_safe = ?", safe).Error; err != nil {
		return tokenError("username", "", "Invalid credentials."), nil
	}

	ok := s.Debug
	if !ok {
		ok = VerifyPassword(req.Password, user.PasswordHash)
	}
	if !ok {
		return tokenError("password", "", "Invalid credentials."), nil
	}

	return s.issueTokens(user)
}

func (s *Service) loginRefresh(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	c, err := parseToken(s.Secret, req.RefreshToken)
	if err != nil {
		return tokenError("refresh_token", "", "Invalid refresh token."), nil
	}

	var userID uint
	if _, scanErr := fmtSscanUint(c.Subject, &userID); scanErr != nil {
		return tokenError("refresh_token", "", "Invalid refresh token."), nil
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		return tokenError("refresh_token", "", "Invalid refresh token."), nil
	}

	if passwordHMAC(s.Secret, user.PasswordHash) != c.Hash {
		return tokenError("refresh_token", "", "Invalid refresh token."), nil
	}

	return s.issueTokens(user)
}

func (s *Service) issueTokens(user models.User) (*TokenResponse, error) {
	access, err := mintToken(s.Secret, user.ID, user.PasswordHash, AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := mintToken(s.Secret, user.ID, user.PasswordHash, RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Verify implements C1's verify operation: validate signature and
// expiry, fetch the user, and require the claim's hash matches the
// HMAC recomputed over the account's current password hash. Returns
// (nil, nil) when tokenString is empty — routes decide whether an
// anonymous caller is authorized, matching the "attach None rather
// than reject" behavior in §4.1.
func (s *Service) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, nil
	}

	c, err := parseToken(s.Secret, tokenString)
	if err != nil {
		return nil, errInvalidToken
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(time.Now()) {
		return nil, errInvalidToken
	}

	var userID uint
	if _, scanErr := fmtSscanUint(c.Subject, &userID); scanErr != nil {
		return nil, errInvalidToken
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, errInvalidToken
	}

	if passwordHMAC(s.Secret, user.PasswordHash) != c.Hash {
		return nil, errInvalidToken
	}

	return &user, nil
}

var errInvalidToken = errors.New("invalid or expired token")

// ErrInvalidToken is returned by Verify for any signature, expiry or
// password-hash mismatch.
func ErrInvalidToken() error { return errInvalidToken }

// fmtSscanUint parses a decimal uint without pulling in fmt.Sscanf's
// reflection overhead on this hot path.
func fmtSscanUint(s string, out *uint) (int, error) {
	var v uint
	if s == "" {
		return 0, errors.New("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("not a digit")
		}
		v = v*10 + uint(r-'0')
	}
	*out = v
	return 1, nil
}

// EnsureDefaultOAuthApplication upserts the well-known game client
// application the way bootstrap.ensureBotUser upserts the bot account —
// idempotent by primary key, so restarts are safe.
func EnsureDefaultOAuthApplication(db *gorm.DB, clientID, clientSecret string) error {
	app := OAuthApplication{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Name:          "osu! game client",
		AllowedGrants: "password,refresh_token",
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&app).Error
}

var _ = bcrypt.DefaultCost
