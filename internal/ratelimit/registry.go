package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dedupfs/dupview/internal/logging"
)

// Scope identifies a group of catalog endpoints that share one token bucket.
type Scope string

const (
	// ScopeBrowse covers the group and file list endpoints and the small
	// informational endpoints (health, metrics, cleanup).
	ScopeBrowse Scope = "browse"

	// ScopeThumbnails covers thumbnail generation requests and polls. Six
	// engines poll concurrently, so this scope gets its own bucket and list
	// loads never queue behind polling traffic.
	ScopeThumbnails Scope = "thumbnails"
)

// EndpointRule maps an API path pattern to its scope.
type EndpointRule struct {
	// Pattern is matched with strings.Contains against the request path.
	Pattern string

	// Method is the HTTP method to match, or "" for any method.
	Method string

	Scope Scope
}

// specificity returns a score for rule precedence. Higher = more specific.
func (r EndpointRule) specificity() int {
	score := len(r.Pattern)
	if r.Method != "" {
		score += 1000
	}
	return score
}

// Registry maps endpoints to scopes and holds one limiter per scope.
type Registry struct {
	rules        []EndpointRule
	limiters     map[Scope]*RateLimiter
	defaultScope Scope
}

// NewRegistry creates a registry whose scopes all refill at rate tokens/second
// with the given burst capacity.
func NewRegistry(rate, burst float64) *Registry {
	r := &Registry{
		defaultScope: ScopeBrowse,
		limiters: map[Scope]*RateLimiter{
			ScopeBrowse:     NewRateLimiter(rate, burst),
			ScopeThumbnails: NewRateLimiter(rate, burst),
		},
	}

	r.rules = []EndpointRule{
		{Pattern: "/thumbs/request", Method: http.MethodPost, Scope: ScopeThumbnails},
		{Pattern: "/thumbs/", Method: http.MethodGet, Scope: ScopeThumbnails},
		{Pattern: "/thumbs/metrics", Method: http.MethodGet, Scope: ScopeBrowse},
		{Pattern: "/thumbs/cleanup/", Method: http.MethodPost, Scope: ScopeBrowse},
		{Pattern: "/duplicates/", Method: "", Scope: ScopeBrowse},
	}

	sort.Slice(r.rules, func(i, j int) bool {
		return r.rules[i].specificity() > r.rules[j].specificity()
	})

	return r
}

// ResolveScope returns the most specific scope for method and path, or
// ScopeBrowse when no rule matches.
func (r *Registry) ResolveScope(method, path string) Scope {
	for _, rule := range r.rules {
		if !strings.Contains(path, rule.Pattern) {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		return rule.Scope
	}
	return r.defaultScope
}

// SetLogger routes every scope limiter's warnings to logger.
func (r *Registry) SetLogger(logger *logging.Logger) {
	for scope, l := range r.limiters {
		l.WithLogger(string(scope), logger)
	}
}

// Limiter returns the limiter for scope, falling back to the default scope.
func (r *Registry) Limiter(scope Scope) *RateLimiter {
	if l, ok := r.limiters[scope]; ok {
		return l
	}
	return r.limiters[r.defaultScope]
}

// Wait blocks on the limiter that serves method and path.
func (r *Registry) Wait(ctx context.Context, method, path string) error {
	scope := r.ResolveScope(method, path)
	if err := r.Limiter(scope).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait (%s): %w", scope, err)
	}
	return nil
}
