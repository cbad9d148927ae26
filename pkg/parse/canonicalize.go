package parse

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strings"
)

var (
	errUnsupportedScheme = errors.New("unsupported scheme (want http or https)")
	errMissingHost       = errors.New("missing host")
)

// trackingParams are query keys dropped during canonicalization. Keys are matched case-insensitively.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"ref":     {},
	"ref_src": {},
	"msclkid": {},
	"dclid":   {},
	"yclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_ga":     {},
	"_gl":     {},
}

// CanonicalizeURL reduces a URL string to the form used for deduplication in the crawl frontier.
// It lowercases the scheme and host, strips the default port (80 for http, 443 for https),
// drops the fragment, removes tracking query keys (utm_* and the trackingParams set), sorts the
// remaining keys, collapses leading path slashes and strips trailing ones ("/" stays "/").
// An empty path becomes "/".
//
// Strings that are not absolute URLs with a host are returned unchanged. The function is
// idempotent: CanonicalizeURL(CanonicalizeURL(x)) == CanonicalizeURL(x).
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return raw
	}

	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = canonicalHost(c.Scheme, c.Host)
	c.Fragment = ""
	c.RawFragment = ""

	c.RawQuery = canonicalQuery(c.RawQuery)
	if c.RawQuery == "" {
		c.ForceQuery = false
	}

	escaped := "/" + strings.Trim(c.EscapedPath(), "/")
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		c.Path = unescaped
		c.RawPath = escaped
	}

	return c.String()
}

// canonicalHost lowercases host and removes a port that is the scheme default or empty.
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host // no port
	}
	if port == "" || (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(h, ":") {
			return "[" + h + "]" // IPv6 literal
		}
		return h
	}
	return host
}

// canonicalQuery drops tracking keys and re-encodes the rest sorted by key. A query that does not
// parse cleanly (bad escape, ';' separator) is filtered pair by pair on its raw keys instead.
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return canonicalRawQuery(rawQuery)
	}
	for key := range values {
		if IsTrackingParam(key) {
			values.Del(key)
		}
	}
	return values.Encode()
}

// canonicalRawQuery filters and stable-sorts the '&'-separated pairs of a malformed query without
// decoding them. If the surviving pairs parse, they go through the normal encoding.
func canonicalRawQuery(rawQuery string) string {
	pairs := make([]string, 0, strings.Count(rawQuery, "&")+1)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" || IsTrackingParam(rawQueryKey(pair)) {
			continue
		}
		pairs = append(pairs, pair)
	}
	kept := strings.Join(pairs, "&")
	if kept == "" {
		return ""
	}
	if _, err := url.ParseQuery(kept); err == nil {
		return canonicalQuery(kept)
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return rawQueryKey(pairs[i]) < rawQueryKey(pairs[j])
	})
	return strings.Join(pairs, "&")
}

// rawQueryKey returns the key of one query pair, decoded when its escapes are valid.
func rawQueryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// IsTrackingParam reports whether a query key only carries campaign/click attribution.
func IsTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// ParseAndCanonicalize parses a URL string using the stricter url.ParseRequestURI (requiring a
// scheme) and returns its canonical form. Only http and https URLs with a host are accepted.
func ParseAndCanonicalize(rawURL string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return "", nil, err
	}
	if scheme := strings.ToLower(parsed.Scheme); scheme != "http" && scheme != "https" {
		return "", nil, &url.Error{Op: "parse", URL: rawURL, Err: errUnsupportedScheme}
	}
	if parsed.Hostname() == "" {
		return "", nil, &url.Error{Op: "parse", URL: rawURL, Err: errMissingHost}
	}
	canonical := CanonicalizeURL(rawURL)
	canonicalParsed, err := url.Parse(canonical)
	if err != nil {
		return "", nil, err
	}
	return canonical, canonicalParsed, nil
}
