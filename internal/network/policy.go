// Package network implements the host-reachability gateway of spec.md §4.7:
// an allow/block host pattern policy checked before every fetch and
// re-checked on every redirect hop, plus the synchronous fetch worker that
// sits behind the sync-async bridge's network channel.
package network

import (
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Decision is the outcome of a host policy check.
type Decision int

const (
	Denied Decision = iota
	Allowed
)

// Policy holds the allow/block host pattern lists for one sandbox
// instance. Patterns are one of: an exact host ("api.example.com"), the
// bare wildcard ("*", matches any host), or a suffix wildcard
// ("*.example.com", which requires at least one more label before the
// suffix — "example.com" itself does not match "*.example.com").
//
// Allow-list precedence: if both lists would match a host, Allowed wins.
// An empty allow-list means "no allow-list configured", not "allow
// nothing" — a block-only policy denies only what p.block matches and
// allows everything else. With neither list configured, every host is
// denied. Re-evaluated per spec.md §4.7 on every redirect
// hop, not just the initial request, so a redirect cannot be used to
// reach a blocked host.
type Policy struct {
	mu      sync.RWMutex
	allow   []string
	block   []string
	memo    *cache.Cache
}

// NewPolicy builds a policy from replace-not-merge allow/block lists
// (config layering in spec.md §8 replaces these lists wholesale per
// layer, it never merges them).
func NewPolicy(allow, block []string) *Policy {
	return &Policy{
		allow: append([]string(nil), allow...),
		block: append([]string(nil), block...),
		memo:  cache.New(30*time.Second, time.Minute),
	}
}

// Check decides whether host may be reached.
func (p *Policy) Check(host string) Decision {
	host = strings.ToLower(host)
	if v, ok := p.memo.Get(host); ok {
		return v.(Decision)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var d Decision
	switch {
	case matchesAny(p.allow, host):
		d = Allowed
	case matchesAny(p.block, host):
		d = Denied
	case len(p.allow) == 0 && len(p.block) > 0:
		// No allow-list configured: block-only policy, default open.
		d = Allowed
	default:
		d = Denied
	}
	p.memo.Set(host, d, cache.DefaultExpiration)
	return d
}

func matchesAny(patterns []string, host string) bool {
	for _, pat := range patterns {
		if matchesPattern(pat, host) {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		if !strings.HasSuffix(host, suffix) {
			return false
		}
		// host must have at least one more label before the suffix.
		prefix := strings.TrimSuffix(host, suffix)
		return len(prefix) > 0
	}
	return strings.EqualFold(pattern, host)
}

// Replace swaps in a fresh allow/block pair, matching config reload
// semantics (lists are replaced wholesale, never merged).
func (p *Policy) Replace(allow, block []string) {
	p.mu.Lock()
	p.allow = append([]string(nil), allow...)
	p.block = append([]string(nil), block...)
	p.mu.Unlock()
	p.memo.Flush()
}
