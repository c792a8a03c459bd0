package scrape

import (
	"net/url"
	"regexp"
	"strings"
)

// billingSep matches the ways venues join acts on one line.
var billingSep = regexp.MustCompile(`(?i)\s*[,/&+]\s*|\s+w/\s*|\s+with\s+|\s+feat\.?\s+|\s+ft\.?\s+|\s+featuring\s+`)

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitArtists splits a billing line such as "Headliner w/ Opener & Friend"
// into names, keeping billing order.
func SplitArtists(text string) []string {
	text = cleanText(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, part := range billingSep.Split(text, -1) {
		if p := strings.Trim(cleanText(part), " -–:"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// absoluteURL resolves href against base. Empty or unparsable hrefs yield
// "" so that one bad link only blanks one field.
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
