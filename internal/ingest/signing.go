package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of "<power>-<timestamp>". Power is
// formatted in its shortest decimal form and timestamp is used as sent.
func Sign(secret string, power float64, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingMessage(power, timestamp)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the reading.
func Verify(secret string, power float64, timestamp, signature string) bool {
	expected := Sign(secret, power, timestamp)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func signingMessage(power float64, timestamp string) string {
	return strconv.FormatFloat(power, 'f', -1, 64) + "-" + timestamp
}
