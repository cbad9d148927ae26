package scope

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// multiLabelSuffixes are second-level labels that usually sit under a country code
// (co.uk, com.au, ac.jp, ...). When one of them is the second-to-last label the registrable
// domain keeps three labels instead of two.
var multiLabelSuffixes = map[string]struct{}{
	"co":  {},
	"com": {},
	"org": {},
	"gov": {},
	"ac":  {},
	"net": {},
	"edu": {},
}

// DomainStrategy selects how registrable domains are derived from a hostname.
type DomainStrategy string

const (
	// StrategyHeuristic keeps the last two labels, or three under a known multi-label suffix.
	StrategyHeuristic DomainStrategy = "heuristic"
	// StrategyPublicSuffix uses the public suffix list, falling back to the heuristic for hosts it rejects.
	StrategyPublicSuffix DomainStrategy = "publicsuffix"
)

// Valid reports whether s is a known strategy.
func (s DomainStrategy) Valid() bool {
	return s == StrategyHeuristic || s == StrategyPublicSuffix
}

// hostOf extracts the lowercased hostname of a URL. ok is false on parse errors or a missing host.
func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	return host, host != ""
}

// SameHostname reports whether two URLs share exactly the same host (case-insensitive).
// Returns false when either URL does not parse.
func SameHostname(a, b string) bool {
	ha, ok := hostOf(a)
	if !ok {
		return false
	}
	hb, ok := hostOf(b)
	return ok && ha == hb
}

// SameRegistrableDomain reports whether two URLs belong to the same registrable domain using the
// label heuristic. It approximates a public suffix match and is wrong for suffixes it does not know.
// Returns false when either URL does not parse.
func SameRegistrableDomain(a, b string) bool {
	return sameDomain(a, b, RegistrableDomain)
}

// SameRegistrableDomainPublicSuffix is SameRegistrableDomain backed by the public suffix list.
func SameRegistrableDomainPublicSuffix(a, b string) bool {
	return sameDomain(a, b, RegistrableDomainPublicSuffix)
}

func sameDomain(a, b string, domainOf func(string) string) bool {
	ha, ok := hostOf(a)
	if !ok {
		return false
	}
	hb, ok := hostOf(b)
	if !ok {
		return false
	}
	return domainOf(ha) == domainOf(hb)
}

// RegistrableDomain returns the heuristic registrable domain of a hostname.
// IP literals and single-label hosts are returned as-is.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	n := len(labels)
	if n <= 2 {
		return host
	}
	keep := 2
	if _, ok := multiLabelSuffixes[labels[n-2]]; ok {
		keep = 3
	}
	return strings.Join(labels[n-keep:], ".")
}

// RegistrableDomainPublicSuffix returns eTLD+1 for host according to the public suffix list.
func RegistrableDomainPublicSuffix(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return RegistrableDomain(host)
	}
	return domain
}
