package scope

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// Policy decides whether a URL belongs to the crawl that started at a given URL.
// It is immutable once built and safe for concurrent use.
type Policy struct {
	startURL          string
	includeSubdomains bool
	strategy          DomainStrategy
	excludePatterns   []*regexp.Regexp
}

// NewPolicy builds a scope policy for startURL. With includeSubdomains false only the exact start
// host is in scope; otherwise any host sharing its registrable domain is. Paths matching any of
// excludePatterns are out of scope.
func NewPolicy(startURL string, includeSubdomains bool, strategy DomainStrategy, excludePatterns []*regexp.Regexp) (*Policy, error) {
	if _, ok := hostOf(startURL); !ok {
		return nil, fmt.Errorf("%w: start URL '%s' has no host", utils.ErrParsing, startURL)
	}
	if strategy == "" {
		strategy = StrategyHeuristic
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown registrable domain strategy '%s'", utils.ErrConfigValidation, strategy)
	}
	return &Policy{
		startURL:          startURL,
		includeSubdomains: includeSubdomains,
		strategy:          strategy,
		excludePatterns:   excludePatterns,
	}, nil
}

// Check returns nil when rawURL is in scope, or an error wrapping utils.ErrScopeViolation.
func (p *Policy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable URL '%s'", utils.ErrScopeViolation, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme '%s'", utils.ErrScopeViolation, u.Scheme)
	}

	var sameSite bool
	switch {
	case !p.includeSubdomains:
		sameSite = SameHostname(p.startURL, rawURL)
	case p.strategy == StrategyPublicSuffix:
		sameSite = SameRegistrableDomainPublicSuffix(p.startURL, rawURL)
	default:
		sameSite = SameRegistrableDomain(p.startURL, rawURL)
	}
	if !sameSite {
		return fmt.Errorf("%w: host '%s'", utils.ErrScopeViolation, u.Host)
	}

	for _, pattern := range p.excludePatterns {
		if pattern.MatchString(u.Path) {
			return fmt.Errorf("%w: path '%s' matches exclude pattern '%s'", utils.ErrScopeViolation, u.Path, pattern.String())
		}
	}
	return nil
}

// InScope reports whether rawURL may be crawled under this policy.
func (p *Policy) InScope(rawURL string) bool {
	return p.Check(rawURL) == nil
}

// IncludeSubdomains reports the mode the policy was built with.
func (p *Policy) IncludeSubdomains() bool {
	return p.includeSubdomains
}
