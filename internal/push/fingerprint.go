package push

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is a short stable digest of a device token, safe to log.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
