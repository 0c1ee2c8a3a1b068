package ui

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// EnvIcons overrides icon-set detection: nerd, unicode or ascii.
const EnvIcons = "DOTSTATE_ICONS"

// IconSet selects the glyph family used in terminal output.
type IconSet string

const (
	IconsNerd    IconSet = "nerd"
	IconsUnicode IconSet = "unicode"
	IconsAscii   IconSet = "ascii"
)

// ParseIconSet maps a user-supplied name to an icon set, defaulting
// to unicode for anything unrecognized.
func ParseIconSet(name string) IconSet {
	switch name {
	case "nerd", "nerdfont", "nerdfonts":
		return IconsNerd
	case "ascii", "plain":
		return IconsAscii
	default:
		return IconsUnicode
	}
}

// DetectIconSet picks an icon set. The environment override wins, then
// the configured set, then a terminal heuristic.
func DetectIconSet(configured string) IconSet {
	if env := os.Getenv(EnvIcons); env != "" {
		return ParseIconSet(env)
	}
	if configured != "" && configured != "auto" {
		return ParseIconSet(configured)
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return IconsAscii
	}
	if termenv.EnvColorProfile() == termenv.Ascii {
		return IconsAscii
	}
	if likelySupportsNerdFonts() {
		return IconsNerd
	}
	return IconsUnicode
}

// Terminals whose default fonts ship nerd-font glyphs.
func likelySupportsNerdFonts() bool {
	switch os.Getenv("TERM_PROGRAM") {
	case "iTerm.app", "WezTerm", "Alacritty", "kitty", "Ghostty":
		return true
	}
	return false
}

// Icons resolves glyphs for one icon set.
type Icons struct {
	set IconSet
}

func NewIcons(set IconSet) Icons {
	return Icons{set: set}
}

func (i Icons) Set() IconSet { return i.set }

func (i Icons) pick(nerd, unicode, ascii string) string {
	switch i.set {
	case IconsNerd:
		return nerd
	case IconsAscii:
		return ascii
	default:
		return unicode
	}
}

func (i Icons) Success() string { return i.pick("", "✅", "[OK]") }
func (i Icons) Warning() string { return i.pick("", "⚠️", "[!]") }
func (i Icons) Error() string   { return i.pick("", "❌", "[X]") }
func (i Icons) Info() string    { return i.pick("", "ℹ️", "[i]") }
func (i Icons) File() string    { return i.pick("", "📄", "[FILE]") }
func (i Icons) Dir() string     { return i.pick("", "📁", "[DIR]") }
func (i Icons) Profile() string { return i.pick("", "👤", "[USER]") }
func (i Icons) Package() string { return i.pick("", "📦", "[PKG]") }
func (i Icons) Git() string     { return i.pick("", "🔧", "[GIT]") }
func (i Icons) Sync() string    { return i.pick("\U000F14CE", "🔄", "[SYNC]") }
func (i Icons) Update() string  { return i.pick("\U000F06B0", "🎉", "[UPD]") }
func (i Icons) Active() string  { return i.pick("", "⭐", "[*]") }
func (i Icons) Check() string   { return i.pick("", "✓", "[x]") }
func (i Icons) Uncheck() string { return i.pick(" ", " ", "[ ]") }
