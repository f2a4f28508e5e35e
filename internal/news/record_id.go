package news

import (
	"crypto/sha256"
	"encoding/hex"
)

// RecordID derives the stable identifier for a canonical URL: the hex
// SHA-256 of the URL bytes. Re-running the pipeline therefore maps the
// same article onto the same row.
func RecordID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}
