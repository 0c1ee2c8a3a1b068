package dotfiles

// Candidate is a well-known dotfile offered by the scanner.
type Candidate struct {
	Path        string
	Description string
}

// DefaultCandidates is the curated catalog of dotfiles the scanner
// offers, grouped roughly by tool family.
var DefaultCandidates = []Candidate{
	// shells
	{".profile", "Login shell initialization file used by POSIX-compatible shells. Common place for environment variables."},
	{".bashrc", "Bash configuration for interactive shells. Aliases, functions, and shell behavior live here."},
	{".bash_profile", "Bash login shell configuration, commonly used on macOS."},
	{".bash_logout", "Commands executed when a Bash login shell exits."},
	{".zshrc", "Zsh configuration for interactive shells. Aliases, prompt setup, plugins."},
	{".zprofile", "Zsh login shell configuration. Often used for PATH and environment setup."},
	{".zshenv", "Zsh environment configuration executed for all shell invocations."},
	{".p10k.zsh", "Powerlevel10k prompt configuration for Zsh."},
	{".oh-my-zsh", "Oh My Zsh framework directory containing themes and plugins."},
	{".inputrc", "Readline configuration affecting Bash, Python REPL, and other readline-based tools."},
	{".dircolors", "Color configuration for `ls` and other GNU coreutils."},

	// editors
	{".vimrc", "Vim editor configuration file."},
	{".config/nvim", "Neovim configuration directory."},
	{".emacs.d", "Emacs configuration directory."},
	{".config/emacs", "Alternative Emacs configuration directory."},
	{".config/helix", "Helix editor configuration directory."},
	{".config/nano", "Nano editor configuration directory."},

	// git
	{".gitconfig", "Global Git configuration: user info, aliases, and defaults."},
	{".gitconfig.d", "Directory for modular Git configuration includes."},
	{".gitattributes", "Git attributes controlling diffing, merging, and file behavior."},
	{".gitignore_global", "Global Git ignore rules applied to all repositories."},
	{".gitmessage", "Git commit message template."},

	// terminal multiplexers and pagers
	{".tmux.conf", "tmux terminal multiplexer configuration."},
	{".config/zellij", "Zellij terminal multiplexer configuration."},
	{".config/screen", "GNU screen configuration directory."},
	{".config/less", "Configuration for the `less` pager."},

	// terminal emulators
	{".config/alacritty", "Alacritty terminal emulator configuration."},
	{".config/kitty", "Kitty terminal emulator configuration."},
	{".config/wezterm", "WezTerm terminal emulator configuration."},
	{".config/iterm2", "iTerm2 configuration directory (partial export support)."},
	{".config/foot", "Foot terminal emulator configuration."},

	// CLI tools
	{".config/starship.toml", "Starship cross-shell prompt configuration."},
	{".config/bat", "Configuration for `bat`, a syntax-highlighted `cat` replacement."},
	{".config/ripgrep", "Default flags and settings for ripgrep (`rg`)."},
	{".config/fd", "Default behavior for `fd`, a modern `find` replacement."},
	{".config/eza", "Configuration for `eza`, a modern `ls` replacement."},
	{".config/direnv", "direnv configuration directory."},
	{".envrc", "Per-directory environment variables managed by direnv."},

	// SSH and crypto, config only
	{".ssh/config", "SSH client configuration: host aliases, keys, and options."},
	{".sshconfig", "SSH client configuration: host aliases, keys, and options."},
	{".ssh/known_hosts", "Known SSH host keys. Does not contain private keys."},
	{".gnupg/gpg.conf", "GnuPG configuration file."},
	{".gnupg/gpg-agent.conf", "GnuPG agent configuration."},

	// language and package managers
	{".npmrc", "npm configuration file."},
	{".yarnrc", "Yarn (classic) configuration file."},
	{".yarnrc.yml", "Yarn Berry (modern) configuration file."},
	{".pnpmrc", "pnpm configuration file."},
	{".cargo/config.toml", "Cargo (Rust) configuration: registries, aliases, build flags."},
	{".rustfmt.toml", "Rust code formatting configuration."},
	{".tool-versions", "asdf-managed language version definitions."},
	{".config/asdf", "asdf version manager configuration directory."},
	{".pyenvrc", "pyenv shell integration configuration."},

	// OS and desktop
	{".config/fontconfig", "Font rendering and selection configuration."},
	{".config/mimeapps.list", "Default application associations for MIME types."},
	{".config/systemd/user", "User-level systemd services and timers."},
}

// FindCandidate returns the catalog entry for path, or nil.
func FindCandidate(path string) *Candidate {
	for i := range DefaultCandidates {
		if DefaultCandidates[i].Path == path {
			return &DefaultCandidates[i]
		}
	}
	return nil
}

// IsCustomFile reports whether path is outside the curated catalog.
func IsCustomFile(path string) bool {
	return FindCandidate(path) == nil
}
