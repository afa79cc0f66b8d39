package ruleengine

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Generated rule ids live above the reserved CRS ranges.
const secRuleIDBase = 1000000

var secRuleEscaper = regexp.MustCompile(`[\\"']`)

// SecRuleGenerator issues ModSecurity rules with ids unique within the
// generator's lifetime. Each owner keeps its own generator.
type SecRuleGenerator struct {
	mu     sync.Mutex
	rand   *rand.Rand
	issued map[int]bool
}

func NewSecRuleGenerator() *SecRuleGenerator {
	return &SecRuleGenerator{
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		issued: map[int]bool{},
	}
}

func (g *SecRuleGenerator) nextID() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		id := secRuleIDBase + g.rand.Intn(1000000)
		if !g.issued[id] {
			g.issued[id] = true
			return id
		}
	}
}

// Generate renders a ModSecurity SecRule that blocks requests to the
// URI of a validated anomaly, optionally narrowed to the client IP.
func (g *SecRuleGenerator) Generate(uri, clientIP, description string) string {
	id := g.nextID()
	target := secRuleEscaper.ReplaceAllString(uri, `\$0`)
	msg := strings.ReplaceAll(description, "'", "")
	if msg == "" {
		msg = "Blocked by validated anomaly rule"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SecRule REQUEST_URI \"@rx %s\" \\\n", target)
	fmt.Fprintf(&b, "    \"id:%d,\\\n", id)
	b.WriteString("    phase:1,\\\n")
	b.WriteString("    deny,\\\n")
	b.WriteString("    status:403,\\\n")
	fmt.Fprintf(&b, "    msg:'%s'", msg)
	if clientIP != "" {
		fmt.Fprintf(&b, ",\\\n    chain\"\nSecRule REMOTE_ADDR \"@ipMatch %s\" \"t:none\"", clientIP)
	} else {
		b.WriteString("\"")
	}
	b.WriteString("\n")
	return b.String()
}
