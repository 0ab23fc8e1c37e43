// Package auth implements the credential and token service (C1): password
// verification and the minting/verification of session tokens whose
// signature is bound to the account's current password hash, the way
// internal/middleware verified a bearer JWT, generalized to a stateful
// claim that must be re-derived against storage on every verify.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL and RefreshTokenTTL are the lifetimes from §4.1.
const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 14 * 24 * time.Hour
)

// claims are the compact HMAC-signed claim fields described in §4.1:
// {sub, iat, exp, hash}. hash is bound to the account's password hash so
// that a password change invalidates every outstanding token.
type claims struct {
	jwt.RegisteredClaims
	Hash string `json:"hash"`
}

// passwordHMAC computes base64-no-padding(HMAC-SHA256(passwordHash))
// under the server-wide secret, the value bound into every token and
// re-derived on every verification.
func passwordHMAC(secret []byte, passwordHash string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// mintToken signs a claim record for userID bound to the given password
// hash, with the requested lifetime.
func mintToken(secret []byte, userID uint, passwordHash string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Hash: passwordHMAC(secret, passwordHash),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(secret)
}

// parseToken verifies the signature and expiry of a token and returns
// its claims without consulting storage; the caller is responsible for
// re-deriving the password HMAC and comparing it to Hash.
func parseToken(secret []byte, tokenString string) (*claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is not valid")
	}
	return &c, nil
}
