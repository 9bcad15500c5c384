package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

func NowISO() string {
	return time.Now().Format(time.RFC3339)
}

// NormalizeBoolRU reads a yes/no answer typed in Russian or English.
func NormalizeBoolRU(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "да", "д", "ага", "yes", "true", "1", "y":
		return true
	default:
		return false
	}
}

func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidHMAC compares token with the signature of msg in constant time.
// Nothing is valid under an empty secret.
func ValidHMAC(secret, msg, token string) bool {
	if secret == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(HMACSHA256Hex(secret, msg)))
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
