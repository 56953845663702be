package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var linkPattern = regexp.MustCompile(`(?i)https?://[^\s<>]+`)

// trackingParams never change the destination of a link.
var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid", "ref"}

// CanonicalLinks returns the distinct links in content in canonical form,
// sorted. Links that fail to parse are dropped.
func CanonicalLinks(content string) []string {
	raw := linkPattern.FindAllString(content, -1)
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, candidate := range raw {
		link, err := CanonicalURL(strings.TrimRight(candidate, ".,;:!?)]>\"'"))
		if err != nil {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	sort.Strings(out)
	return out
}

// CanonicalURL lowercases and punycodes the host, drops a leading "www.",
// credentials, fragments and tracking parameters, and sorts the query.
func CanonicalURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	if port := parsed.Port(); port != "" && port != defaultPort(parsed.Scheme) {
		host += ":" + port
	}

	parsed.Host = host
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Path == "/" {
		parsed.Path = ""
	}

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	// Encode sorts by key.
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
