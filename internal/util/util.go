package util

import (
	"os"
	"regexp"
	"strings"
)

// winEnvRegex matches Windows-style variables (%VAR%).
var winEnvRegex = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandEnvUniversal expands environment variables ($VAR, ${VAR}, %VAR%).
// Variables that are not found are replaced with an empty string.
func ExpandEnvUniversal(s string) string {
	unixExpanded := os.ExpandEnv(s)
	return winEnvRegex.ReplaceAllStringFunc(unixExpanded, func(match string) string {
		if value, ok := os.LookupEnv(match[1 : len(match)-1]); ok {
			return value
		}
		return ""
	})
}

// Snippet returns a short prefix of a byte slice for logging or display purposes.
// Strings longer than 200 runes are truncated and suffixed with "...".
func Snippet(b []byte) string {
	const maxLen = 200
	if b == nil {
		return ""
	}
	runes := []rune(string(b))
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return string(runes)
}

// AppendUnique appends the trimmed, non-empty values not already in seen,
// keeping first-seen order. seen is updated in place.
func AppendUnique(dst []string, seen map[string]struct{}, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// Dedup returns values without duplicates, keeping first-seen order.
// The result is never nil.
func Dedup(values []string) []string {
	return AppendUnique(make([]string, 0, len(values)), make(map[string]struct{}, len(values)), values...)
}
