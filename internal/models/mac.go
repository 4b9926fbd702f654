package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMAC is returned when a MAC address cannot be normalized.
var ErrInvalidMAC = errors.New("invalid MAC address")

// NormalizeMAC canonicalizes a MAC address to lowercase colon-separated form.
// Accepted inputs: aa:bb:cc:dd:ee:ff, AA-BB-CC-DD-EE-FF, aabb.ccdd.eeff and
// bare 12-digit hex. The normalized form is the only form ever stored.
func NormalizeMAC(mac string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(mac))
	cleaned = strings.NewReplacer(":", "", "-", "", ".", "").Replace(cleaned)

	if len(cleaned) != 12 {
		return "", fmt.Errorf("%w %q", ErrInvalidMAC, mac)
	}
	for _, c := range cleaned {
		if !isHexDigit(c) {
			return "", fmt.Errorf("%w %q", ErrInvalidMAC, mac)
		}
	}

	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String(), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
