package preprocess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
	"github.com/onyagamarcel2/modsec-ai/internal/preprocess"
)

func TestIPPattern(t *testing.T) {
	assert.Equal(t, "192.168.*.*", preprocess.IPPattern("192.168.1.10"))
	assert.Equal(t, "10.0.*.*", preprocess.IPPattern("10.0.0.1"))
	assert.Equal(t, "", preprocess.IPPattern(""))
	assert.Equal(t, "not-an-ip", preprocess.IPPattern("not-an-ip"))
}

func TestURIPattern(t *testing.T) {
	assert.Equal(t, "/user/*/edit", preprocess.URIPattern("/user/42/edit"))
	assert.Equal(t, "/api/*/items/*", preprocess.URIPattern("/api/7/items/99"))
	assert.Equal(t, "/login", preprocess.URIPattern("/login"))
	assert.Equal(t, "", preprocess.URIPattern(""))
}

func TestTokens_Deterministic(t *testing.T) {
	p := preprocess.New()
	entry := &logparse.AuditEntry{
		RequestLine: "GET /admin/1/config HTTP/1.1",
		URI:         "/admin/1/config",
		Message:     "Pattern match detected",
		UserAgent:   "sqlmap/1.7",
		ClientIP:    "192.168.1.10",
		RuleID:      "942100",
		Severity:    "CRITICAL",
	}

	first := p.Tokens(entry)
	second := p.Tokens(entry)

	assert.Equal(t, first, second, "tokenization must be a pure function")
	assert.Contains(t, first, "get")
	assert.Contains(t, first, "192.168.*.*")
	assert.Contains(t, first, "rule_942100")
	assert.Contains(t, first, "sev_critical")
	assert.Contains(t, first, "/admin/*/config")
}

func TestTokens_EmptyEntry(t *testing.T) {
	p := preprocess.New()

	tokens := p.Tokens(&logparse.AuditEntry{})
	assert.Empty(t, tokens)
}
