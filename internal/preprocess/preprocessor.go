// Package preprocess cleans and tokenizes parsed audit entries before vectorization.
package preprocess

import (
	"regexp"
	"strings"

	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
)

var (
	uriDigitsRe = regexp.MustCompile(`/\d+`)
	tokenRe     = regexp.MustCompile(`[a-z0-9_.*/-]+`)
)

// Preprocessor is a pure per-entry cleaner: identical input always yields
// identical tokens, and it holds no mutable state.
type Preprocessor struct{}

func New() *Preprocessor {
	return &Preprocessor{}
}

// Tokens builds the token stream for one entry: lowercased terms from the
// request line, URI pattern, rule message and user agent, plus the masked
// client IP pattern.
func (p *Preprocessor) Tokens(entry *logparse.AuditEntry) []string {
	var parts []string

	parts = append(parts, tokenize(entry.RequestLine)...)
	parts = append(parts, tokenize(URIPattern(entry.URI))...)
	parts = append(parts, tokenize(entry.Message)...)
	parts = append(parts, tokenize(entry.UserAgent)...)

	if ip := IPPattern(entry.ClientIP); ip != "" {
		parts = append(parts, ip)
	}
	if entry.RuleID != "" {
		parts = append(parts, "rule_"+entry.RuleID)
	}
	if entry.Severity != "" {
		parts = append(parts, "sev_"+strings.ToLower(entry.Severity))
	}

	return parts
}

// IPPattern masks the host half of an IPv4 address: 192.168.1.10 -> 192.168.*.*.
// Non-IPv4 input is returned unchanged.
func IPPattern(ip string) string {
	if ip == "" {
		return ""
	}
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return parts[0] + "." + parts[1] + ".*.*"
	}
	return ip
}

// URIPattern collapses numeric path segments: /user/42/edit -> /user/*/edit.
func URIPattern(uri string) string {
	if uri == "" {
		return ""
	}
	return uriDigitsRe.ReplaceAllString(uri, "/*")
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}
