package capture

import (
	"crypto/sha256"
	"encoding/hex"
)

// truncateBytes caps in at maxBytes. When truncation happens it also
// returns the original length and the sha256 of the full input so the
// record keeps a fingerprint of what was dropped.
func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

func truncateStringBytes(in string, maxBytes int) (string, bool, int, string) {
	out, truncated, origLen, hash := truncateBytes([]byte(in), maxBytes)
	return string(out), truncated, origLen, hash
}
