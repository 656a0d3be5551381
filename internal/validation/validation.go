// Package validation checks caller-supplied account fields.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinHandleLength      = 3
	MaxHandleLength      = 32
	MaxDisplayNameLength = 64
)

// Handle validates an account handle: 3 to 32 characters of lowercase
// letters, digits, '_' or '-', starting with a letter or digit.
func Handle(handle string) error {
	if len(handle) < MinHandleLength || len(handle) > MaxHandleLength {
		return fmt.Errorf("handle must be between %d and %d characters", MinHandleLength, MaxHandleLength)
	}
	for i, r := range handle {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case (r == '_' || r == '-') && i > 0:
		default:
			return fmt.Errorf("handle may only contain lowercase letters, digits, '_' and '-', and must start with a letter or digit")
		}
	}
	return nil
}

// NormalizeHandle lowercases and trims a handle before validation.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// DisplayName validates a free-form display name. Empty is allowed.
func DisplayName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("display_name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fmt.Errorf("display_name must be at most %d characters", MaxDisplayNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display_name must not contain control characters")
		}
	}
	return nil
}
