// Package ruleengine matches parsed audit entries against operator
// defined regex rules and renders ModSecurity SecRules for validated
// anomalies.
package ruleengine

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Rule is one signature: a primary pattern matched against the whole
// entry plus optional per-field conditions that all must match.
type Rule struct {
	Name        string            `json:"name"`
	Pattern     string            `json:"pattern"`
	Severity    string            `json:"severity"`
	Description string            `json:"description,omitempty"`
	Conditions  map[string]string `json:"conditions,omitempty"`

	re      *regexp.Regexp
	condRes map[string]*regexp.Regexp
}

// Validate checks the required fields and compiles every pattern.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %s: pattern is required", r.Name)
	}
	if r.Severity == "" {
		return fmt.Errorf("rule %s: severity is required", r.Name)
	}

	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: invalid pattern: %w", r.Name, err)
	}
	r.re = re

	r.condRes = make(map[string]*regexp.Regexp, len(r.Conditions))
	for field, pattern := range r.Conditions {
		cre, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid condition for field %s: %w", r.Name, field, err)
		}
		r.condRes[field] = cre
	}
	return nil
}

// Fields is the flattened view of an entry the rule conditions address.
type Fields map[string]string

// Matches reports whether the rule triggers on the entry fields.
func (r *Rule) Matches(fields Fields) bool {
	var joined strings.Builder
	for _, v := range fields {
		joined.WriteString(v)
		joined.WriteByte('\n')
	}
	if !r.re.MatchString(joined.String()) {
		return false
	}
	for field, cre := range r.condRes {
		if !cre.MatchString(fields[field]) {
			return false
		}
	}
	return true
}

// Engine holds a validated rule set.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

func New() *Engine {
	return &Engine{}
}

// Add validates and installs a rule.
func (e *Engine) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return nil
}

// Detect returns every rule that triggers on the entry fields.
func (e *Engine) Detect(fields Fields) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var hits []Rule
	for _, r := range e.rules {
		if r.Matches(fields) {
			hits = append(hits, r)
		}
	}
	return hits
}

// Rules returns a copy of the installed rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

type ruleFile struct {
	Rules []Rule `json:"rules"`
}

// LoadFile replaces the rule set with the contents of a JSON rule file.
// Any invalid rule fails the whole load, leaving the current set intact.
func (e *Engine) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}
	var rf ruleFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("failed to parse rule file: %w", err)
	}
	for i := range rf.Rules {
		if err := rf.Rules[i].Validate(); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rf.Rules
	return nil
}

// SaveFile writes the current rule set as a JSON rule file.
func (e *Engine) SaveFile(path string) error {
	e.mu.RLock()
	rf := ruleFile{Rules: append([]Rule(nil), e.rules...)}
	e.mu.RUnlock()

	raw, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rule file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}
	return nil
}
