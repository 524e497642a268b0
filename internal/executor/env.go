package executor

import (
	"strings"
)

// Environment passed into a driver container. Host paths and credentials mean
// nothing inside the image, so only locale and terminal settings cross over.

// envAllowlist contains variables that are safe to pass through.
var envAllowlist = map[string]bool{
	"LANG":                    true,
	"LANGUAGE":                true,
	"LC_ALL":                  true,
	"LC_CTYPE":                true,
	"TERM":                    true,
	"COLUMNS":                 true,
	"LINES":                   true,
	"NO_COLOR":                true,
	"PYTHONIOENCODING":        true,
	"PYTHONUNBUFFERED":        true,
	"PYTHONUTF8":              true,
	"PYTHONDONTWRITEBYTECODE": true,
}

// envBlocklist contains variables that must never be passed through, even
// if they appear in the allowlist or in configured extras.
var envBlocklist = map[string]bool{
	"LD_PRELOAD":                     true,
	"LD_LIBRARY_PATH":                true,
	"DOCKER_HOST":                    true,
	"PYTHONSTARTUP":                  true,
	"AWS_ACCESS_KEY_ID":              true,
	"AWS_SECRET_ACCESS_KEY":          true,
	"GOOGLE_APPLICATION_CREDENTIALS": true,
	"PNGTOOLS_BRIDGE_SOCKET":         true, // set by the executor itself
}

// ScrubEnvironment filters host environment variables through the allowlist
// and blocklist.
func ScrubEnvironment(env []string) []string {
	scrubbed := make([]string, 0, len(env))

	for _, entry := range env {
		key := envKey(entry)

		if envBlocklist[key] {
			continue
		}

		if envAllowlist[key] {
			scrubbed = append(scrubbed, entry)
		}
	}

	return scrubbed
}

// withoutBlocked drops blocklisted entries from explicitly configured extras.
func withoutBlocked(env []string) []string {
	kept := make([]string, 0, len(env))
	for _, entry := range env {
		if !envBlocklist[envKey(entry)] {
			kept = append(kept, entry)
		}
	}
	return kept
}

// envKey extracts the key from a "KEY=VALUE" environment entry.
func envKey(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}
