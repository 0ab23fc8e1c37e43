package auth

import (
	"crypto/md5"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// md5Hex is the legacy client-side pre-hash applied before bcrypt
// verification (§4.1, §9 Open Question: kept mandatory, see DESIGN.md).
func md5Hex(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword reproduces the client's MD5 pre-hash and checks it
// against the stored bcrypt hash.
func VerifyPassword(presented, storedBcryptHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedBcryptHash), []byte(md5Hex(presented))) == nil
}

// HashPassword produces a storable bcrypt hash from a raw password,
// applying the same MD5 pre-hash so stored hashes are comparable with
// VerifyPassword.
func HashPassword(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(md5Hex(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
