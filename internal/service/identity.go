package service

import (
	"net/mail"
	"strings"
	"unicode"
)

const nationalIDLength = 11

// NormalizeIdentifier maps a login identifier to its stored form: emails are
// lower-cased, national ids keep only their digits ("123.456.789-01" ->
// "12345678901"). It returns "" when nothing usable remains.
func NormalizeIdentifier(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.Contains(trimmed, "@") {
		return strings.ToLower(trimmed)
	}
	return digitsOnly(trimmed)
}

func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

func normalizeNationalID(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	for _, r := range raw {
		if !unicode.IsDigit(r) && r != '.' && r != '-' && r != ' ' {
			return "", false
		}
	}
	digits := digitsOnly(raw)
	return digits, len(digits) == nationalIDLength
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
