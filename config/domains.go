package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Domain policy modes. Strict searches the allow-list only, prioritized
// ranks allow-listed sources first while blocking the block-list, open
// applies the block-list alone.
const (
	DomainModeStrict      = "strict"
	DomainModePrioritized = "prioritized"
	DomainModeOpen        = "open"
)

// DomainPolicyConfig controls which sites research may draw from. The
// mode is always an explicit input, never inferred from the lists.
type DomainPolicyConfig struct {
	Mode  string   `mapstructure:"mode" yaml:"mode"`
	Allow []string `mapstructure:"allow" yaml:"allow"`
	Block []string `mapstructure:"block" yaml:"block"`
}

// DefaultAllowedDomains lists the authoritative Zimbabwean and regional
// legal sources.
func DefaultAllowedDomains() []string {
	return []string{
		"zimlii.org",
		"africanlii.org",
		"saflii.org",
		"veritaszim.net",
		"parlzim.gov.zw",
		"zimbabwe.gov.zw",
		"gazettes.africa",
		"lawsociety.org.zw",
	}
}

// DefaultBlockedDomains lists known content farms and aggregator spam.
func DefaultBlockedDomains() []string {
	return []string{
		"answers.com",
		"ehow.com",
		"scribd.com",
		"coursehero.com",
		"studocu.com",
	}
}

// Normalize cleans entries and removes duplicates.
func (c DomainPolicyConfig) Normalize() DomainPolicyConfig {
	norm := c
	norm.Mode = strings.TrimSpace(strings.ToLower(norm.Mode))
	if norm.Mode == "" {
		norm.Mode = DomainModePrioritized
	}
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Block = sanitizeDomainList(norm.Block)
	return norm
}

// Validate ensures the mode is known and the lists do not conflict.
func (c DomainPolicyConfig) Validate() error {
	norm := c.Normalize()

	switch norm.Mode {
	case DomainModeStrict, DomainModePrioritized, DomainModeOpen:
	default:
		return fmt.Errorf("domain policy: unknown mode %q", c.Mode)
	}
	if norm.Mode == DomainModeStrict && len(norm.Allow) == 0 {
		return fmt.Errorf("domain policy: strict mode requires a non-empty allow list")
	}

	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Block {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("domain policy conflict: host %q present in both allow and block lists", host)
		}
	}
	return nil
}

// Allowed reports whether rawURL belongs to an allow-listed domain.
// Subdomains match their parent entry.
func (c DomainPolicyConfig) Allowed(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, domain := range c.Allow {
		if hostMatches(host, domain) {
			return true
		}
	}
	return false
}

// Blocked reports whether rawURL belongs to a block-listed domain.
func (c DomainPolicyConfig) Blocked(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, domain := range c.Block {
		if hostMatches(host, domain) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	}
	return normalizeHost(rawURL)
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
