package profiles

import (
	"strings"
	"unicode"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/manifest"
)

// MaxNameLength is the longest allowed profile name.
const MaxNameLength = 50

// reservedNames cannot be used as profile names. The repo-level reserved
// names from the manifest (the common pool) apply on top of these.
var reservedNames = []string{"backup", "temp", ".git", "node_modules", "target", "build"}

// ValidateName checks a profile name against the naming rules: 1-50
// characters, alphanumerics plus hyphen and underscore, no leading dot,
// not reserved and unique among existing names (case-insensitive).
func ValidateName(name string, existing []string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New(errors.ErrInvalidProfileName, "profile name cannot be empty")
	}
	if len(trimmed) > MaxNameLength {
		return errors.Newf(errors.ErrInvalidProfileName,
			"profile name must be %d characters or less (got %d)", MaxNameLength, len(trimmed))
	}
	for _, r := range trimmed {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return errors.New(errors.ErrInvalidProfileName,
				"profile name can only contain letters, numbers, hyphens, and underscores")
		}
	}
	if strings.HasPrefix(trimmed, ".") {
		return errors.New(errors.ErrInvalidProfileName, "profile name cannot start with a dot")
	}

	lower := strings.ToLower(trimmed)
	if manifest.IsReservedName(trimmed) {
		return errors.Newf(errors.ErrInvalidProfileName, "'%s' is a reserved name and cannot be used", trimmed)
	}
	for _, reserved := range reservedNames {
		if lower == reserved {
			return errors.Newf(errors.ErrInvalidProfileName, "'%s' is a reserved name and cannot be used", trimmed)
		}
	}

	for _, existing := range existing {
		if strings.EqualFold(existing, trimmed) {
			return errors.Newf(errors.ErrProfileExists, "a profile with the name '%s' already exists", trimmed)
		}
	}
	return nil
}

// SanitizeName makes a name safe to use as a repo directory: whitespace
// becomes hyphens, other invalid characters become underscores, and the
// result is truncated to the maximum length.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > MaxNameLength {
		out = out[:MaxNameLength]
	}
	return out
}
