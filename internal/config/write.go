package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written by "config init".
// All settings are present as commented-out defaults so users can discover
// every option without reading docs. This template is written once and never
// regenerated — user modifications are preserved by subsequent text-level
// edits.
const configTemplate = `# icloud-go configuration
# Docs: https://github.com/tonimelisma/icloud-go

# ── Global settings ──
# Uncomment and modify to override defaults.

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log output format: auto, text, json
# log_format = "auto"

# Log file path (default: stderr only)
# log_file = ""

# Serve the web dashboard while syncing
# webui = false
# webui_listen = "127.0.0.1:8080"

# ── Defaults ──
# Settings here apply to every account unless the account overrides them.

[defaults]
# directory = "~/Pictures/iCloud"
# folder_structure = "{:%Y/%m/%d}"
# sizes = ["original"]
# live_photo_size = "original"
# align_raw = "as-is"
# file_match_policy = "name-size-dedup-with-suffix"
# skip_videos = false
# skip_live_photos = false
# set_exif_datetime = false
# xmp_sidecar = false
# auto_delete = false
# watch_with_interval = 0
# domain = "com"
# password_providers = ["parameter", "keyring", "console"]
# mfa_provider = "console"

# ── Accounts ──
# One block per iCloud account. Added automatically by 'auth'.
#
# [[account]]
# username = "user@example.com"
# directory = "~/Pictures/iCloud"
`

// accountHeader is the TOML array-of-tables header that starts each account
// block. Used to detect block boundaries in line-based edits.
const accountHeader = "[[account]]"

// accountSection generates the TOML text for a new account block. The blank
// line before the header is intentional — it visually separates account
// blocks from each other and from the defaults section.
func accountSection(username, directory string) string {
	return fmt.Sprintf("\n%s\nusername = %q\ndirectory = %q\n", accountHeader, username, directory)
}

// WriteTemplate creates a new config file from the default template. Used by
// "config init". Refuses to overwrite an existing file so user edits are
// never lost.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalid, path)
	}

	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// AppendAccountSection appends a new account block at the end of the config
// file, creating the file from the template first if it does not exist. Used
// after a successful first authentication for a username not yet in the
// config. The write is atomic to avoid partial writes on crash.
func AppendAccountSection(path, username, directory string) error {
	slog.Info("appending account to config",
		"path", path,
		"username", username,
		"directory", directory,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(configTemplate)
	}

	content := string(data)

	// Ensure the file ends with a newline before appending, so the new
	// block header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += accountSection(username, directory)

	return atomicWriteFile(path, []byte(content))
}

// SetAccountKey finds an account block by username and sets a key-value pair.
// If the key already exists within the block, its line is replaced. If not
// found, the key is inserted on the line after the block header. Used by
// "config pause" and "config resume" to flip the paused flag.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetAccountKey(path, username, key, value string) error {
	slog.Info("setting account key in config",
		"path", path,
		"username", username,
		"key", key,
		"value", value,
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, blockStart := findAccountBlock(lines, username)
	if blockStart < 0 {
		return fmt.Errorf("account %q not found in config", username)
	}

	formattedValue := formatTOMLValue(value)
	newLine := fmt.Sprintf("%s = %s", key, formattedValue)

	lines = setKeyInBlock(lines, headerLine, blockStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findAccountBlock locates the account block whose username key matches.
// Returns the header line index and the block content start (header + 1).
// Returns -1 for both if no block matches.
func findAccountBlock(lines []string, username string) (int, int) {
	want := fmt.Sprintf("%q", username)

	for i, line := range lines {
		if strings.TrimSpace(line) != accountHeader {
			continue
		}

		end := findBlockEnd(lines, i+1)
		for j := i + 1; j < end; j++ {
			k, v, ok := splitKeyValue(lines[j])
			if ok && k == "username" && v == want {
				return i, i + 1
			}
		}
	}

	return -1, -1
}

// findBlockEnd returns the index of the first line after the block's own
// content. This excludes blank lines and comments that precede the next
// header (those belong to the next block's preamble, not this block's
// content).
func findBlockEnd(lines []string, blockStart int) int {
	nextHeader := len(lines)

	for i := blockStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "[") {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next header to skip blank lines and comment
	// lines that belong to the next block's preamble.
	end := nextHeader
	for end > blockStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInBlock either replaces an existing key line or inserts a new one
// after the block header.
func setKeyInBlock(lines []string, headerLine, blockStart int, key, newLine string) []string {
	blockEnd := findBlockEnd(lines, blockStart)

	// Search for existing key within the block.
	for i := headerLine + 1; i < blockEnd; i++ {
		k, _, ok := splitKeyValue(lines[i])
		if ok && k == key {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found — insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// splitKeyValue parses a "key = value" line, returning the trimmed key and
// raw value text. Comment and blank lines return ok=false.
func splitKeyValue(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}

	k, v, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}

	return strings.TrimSpace(k), strings.TrimSpace(v), true
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
