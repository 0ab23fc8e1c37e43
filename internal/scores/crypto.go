package scores

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
)

// scoreburgrKeyPrefix is the fixed prefix the client's AES key is built
// from; the full key is this prefix concatenated with the client
// version string submitted alongside the score (§4.5).
const scoreburgrKeyPrefix = "osu!-scoreburgr---------"

// deriveKey turns the variable-length "prefix+clientVersion" string
// into a fixed 32-byte AES-256 key. The source's Rijndael-128 accepts
// arbitrary key lengths up to 32 bytes directly; Go's crypto/aes does
// not, so the key is hashed down to a fixed size instead of truncated
// or zero-padded — an explicit, documented deviation (see DESIGN.md)
// rather than a guess at byte-exact client compatibility, which is out
// of scope.
func deriveKey(clientVersion string) [32]byte {
	return sha256.Sum256([]byte(scoreburgrKeyPrefix + clientVersion))
}

// decryptSubmission reverses the client's AES-CBC encryption of the
// submission plaintext and strips the zero-padding the client appends
// to round the plaintext up to a block boundary.
func decryptSubmission(ciphertext, iv []byte, clientVersion string) (string, error) {
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid ciphertext length %d", len(ciphertext))
	}

	key := deriveKey(clientVersion)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return string(bytes.TrimRight(plaintext, "\x00")), nil
}
