package ruleengine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFields() Fields {
	return Fields{
		"uri":        "/login.php?user=admin' OR 1=1--",
		"method":     "GET",
		"client_ip":  "203.0.113.7",
		"user_agent": "sqlmap/1.7",
	}
}

func TestRuleValidation(t *testing.T) {
	r := Rule{Name: "sqli", Pattern: `(?i)or\s+1=1`, Severity: "high"}
	assert.NoError(t, r.Validate())

	assert.Error(t, (&Rule{Pattern: "x", Severity: "low"}).Validate())
	assert.Error(t, (&Rule{Name: "x", Severity: "low"}).Validate())
	assert.Error(t, (&Rule{Name: "x", Pattern: "x"}).Validate())
}

func TestRuleValidationRejectsBadRegex(t *testing.T) {
	r := Rule{Name: "broken", Pattern: `([`, Severity: "low"}
	assert.Error(t, r.Validate())

	r = Rule{
		Name: "broken-cond", Pattern: "x", Severity: "low",
		Conditions: map[string]string{"uri": `([`},
	}
	assert.Error(t, r.Validate())
}

func TestDetect(t *testing.T) {
	e := New()
	require.NoError(t, e.Add(Rule{Name: "sqli", Pattern: `(?i)or\s+1=1`, Severity: "high"}))
	require.NoError(t, e.Add(Rule{Name: "xss", Pattern: `<script`, Severity: "medium"}))
	require.NoError(t, e.Add(Rule{
		Name: "scanner", Pattern: `sqlmap`, Severity: "high",
		Conditions: map[string]string{"user_agent": `(?i)sqlmap`},
	}))

	hits := e.Detect(sampleFields())
	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.Name
	}
	assert.ElementsMatch(t, []string{"sqli", "scanner"}, names)
}

func TestConditionMustMatchNamedField(t *testing.T) {
	e := New()
	require.NoError(t, e.Add(Rule{
		Name: "scanner", Pattern: `sqlmap`, Severity: "high",
		Conditions: map[string]string{"uri": `sqlmap`},
	}))

	// Pattern matches the joined fields but the uri condition does not.
	assert.Empty(t, e.Detect(sampleFields()))
}

func TestRuleFileRoundTrip(t *testing.T) {
	e := New()
	require.NoError(t, e.Add(Rule{Name: "sqli", Pattern: `(?i)or\s+1=1`, Severity: "high", Description: "classic tautology"}))

	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, e.SaveFile(path))

	loaded := New()
	require.NoError(t, loaded.LoadFile(path))
	require.Len(t, loaded.Rules(), 1)
	assert.Equal(t, "sqli", loaded.Rules()[0].Name)
	assert.Len(t, loaded.Detect(sampleFields()), 1)
}

func TestLoadFileRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, writeFile(path, `{"rules":[{"name":"x","pattern":"([","severity":"low"}]}`))

	e := New()
	require.NoError(t, e.Add(Rule{Name: "keep", Pattern: "x", Severity: "low"}))
	assert.Error(t, e.LoadFile(path))
	// Current set is untouched on a failed load.
	assert.Len(t, e.Rules(), 1)
}

func TestGenerateSecRule(t *testing.T) {
	g := NewSecRuleGenerator()
	rule := g.Generate("/admin/login", "203.0.113.7", "validated brute force")

	assert.Contains(t, rule, `SecRule REQUEST_URI "@rx /admin/login"`)
	assert.Contains(t, rule, "deny")
	assert.Contains(t, rule, "status:403")
	assert.Contains(t, rule, "msg:'validated brute force'")
	assert.Contains(t, rule, `@ipMatch 203.0.113.7`)

	// ids land in the reserved range and are unique.
	other := g.Generate("/admin/login", "", "x")
	assert.NotEqual(t, extractID(t, rule), extractID(t, other))
}

func TestSecRuleGeneratorsAreIndependent(t *testing.T) {
	// Each owner holds its own issuer; no hidden shared state between
	// generators.
	a := NewSecRuleGenerator()
	b := NewSecRuleGenerator()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := extractID(t, a.Generate("/a", "", "x"))
		assert.False(t, seen[id], "generator reissued %s", id)
		seen[id] = true
	}
	assert.NotNil(t, b.Generate("/b", "", "y"))
}

func extractID(t *testing.T, rule string) string {
	t.Helper()
	idx := strings.Index(rule, "id:")
	require.GreaterOrEqual(t, idx, 0)
	end := strings.IndexByte(rule[idx:], ',')
	require.Greater(t, end, 0)
	return rule[idx : idx+end]
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
