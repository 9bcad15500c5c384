package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeBoolRU(t *testing.T) {
	for _, s := range []string{"да", " Да ", "YES", "1"} {
		if !NormalizeBoolRU(s) {
			t.Errorf("%q should be true", s)
		}
	}
	for _, s := range []string{"нет", "", "no", "может быть"} {
		if NormalizeBoolRU(s) {
			t.Errorf("%q should be false", s)
		}
	}
}

func TestValidHMAC(t *testing.T) {
	tok := HMACSHA256Hex("secret", "export:users")
	if !ValidHMAC("secret", "export:users", tok) {
		t.Fatal("own token rejected")
	}
	if ValidHMAC("other", "export:users", tok) {
		t.Fatal("token with another secret accepted")
	}
	if ValidHMAC("secret", "export:users", "") {
		t.Fatal("empty token accepted")
	}
	if ValidHMAC("", "export:users", HMACSHA256Hex("", "export:users")) {
		t.Fatal("token under an empty secret accepted")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("привет", 10); got != "привет" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("ж", 2000)
	got := Truncate(long, 1024)
	if utf8.RuneCountInString(got) != 1024 || !strings.HasSuffix(got, "…") {
		t.Fatalf("got %d runes", utf8.RuneCountInString(got))
	}
}
