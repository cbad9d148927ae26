package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
var consecutiveUnderscores = regexp.MustCompile(`_+`)

const maxFilenameLength = 100

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_ ")
	}
	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// SiteFilename derives a per-site output file name from a start URL, e.g.
// "https://docs.example.com:8443/guide" -> "docs.example.com_8443.jsonl".
func SiteFilename(startURL, ext string) string {
	base := startURL
	if u, err := url.Parse(startURL); err == nil && u.Host != "" {
		base = u.Host
	}
	return SanitizeFilename(base) + ext
}
