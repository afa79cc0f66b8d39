// Package logparse parses ModSecurity serial audit logs into structured entries.
package logparse

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"time"
)

// Section separator, e.g. "--c3a04340-A--".
var sectionHeaderRe = regexp.MustCompile(`^--([a-zA-Z0-9]+)-([A-Z])--$`)

var (
	msgRe      = regexp.MustCompile(`Message: (.*?) \[file`)
	ruleIDRe   = regexp.MustCompile(`\[id "(.*?)"\]`)
	severityRe = regexp.MustCompile(`\[severity "(.*?)"\]`)
	uriRe      = regexp.MustCompile(`\[uri "(.*?)"\]`)
)

// Audit log section A timestamp format: 13/Jan/2024:10:15:32 +0100
const auditTimeLayout = "02/Jan/2006:15:04:05 -0700"

// Parser converts raw audit transactions into AuditEntries.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// rawTransaction groups the lines of each audit section.
type rawTransaction struct {
	id       string
	sections map[string][]string
}

// ParseFile reads a whole serial audit log and returns the entries it
// could parse. Malformed transactions are skipped, not fatal.
func (p *Parser) ParseFile(path string) ([]*AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	return p.ParseReader(f)
}

// ParseReader parses every transaction available on r.
func (p *Parser) ParseReader(r io.Reader) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	var current *rawTransaction
	var currentSection string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")

		if m := sectionHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			txID, section := m[1], m[2]
			if section == "A" && current != nil {
				if entry := p.buildEntry(current); entry != nil {
					entries = append(entries, entry)
				}
				current = nil
			}
			if current == nil {
				current = &rawTransaction{id: txID, sections: make(map[string][]string)}
			}
			currentSection = section
			continue
		}

		if current != nil && currentSection != "" {
			current.sections[currentSection] = append(current.sections[currentSection], line)
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read audit log: %w", err)
	}

	if current != nil {
		if entry := p.buildEntry(current); entry != nil {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// ParseTransaction parses a single raw transaction (the text between two
// section-A boundaries), as emitted by the watcher.
func (p *Parser) ParseTransaction(raw string) (*AuditEntry, error) {
	entries, err := p.ParseReader(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no parsable transaction in input")
	}
	return entries[0], nil
}

// buildEntry extracts the structured fields out of a raw transaction.
// Returns nil when the transaction has no usable request data.
func (p *Parser) buildEntry(tx *rawTransaction) *AuditEntry {
	entry := &AuditEntry{TransactionID: tx.id}

	// Section A: timestamp, IPs, ports.
	for _, line := range tx.sections["A"] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 6 {
			ts := strings.TrimPrefix(fields[0], "[") + " " + strings.TrimSuffix(fields[1], "]")
			if t, err := time.Parse(auditTimeLayout, ts); err == nil {
				entry.Timestamp = t
			}
			entry.ClientIP = fields[2]
			entry.ClientPort = fields[3]
			entry.ServerIP = fields[4]
			entry.ServerPort = fields[5]
		}
		break
	}

	// Section B: request line and headers.
	if lines := nonEmpty(tx.sections["B"]); len(lines) > 0 {
		entry.RequestLine = lines[0]
		entry.RequestHeaders = parseHeaders(lines[1:])
		entry.Host = entry.RequestHeaders["Host"]
		entry.UserAgent = entry.RequestHeaders["User-Agent"]

		parts := strings.Fields(entry.RequestLine)
		if len(parts) >= 2 {
			entry.Method = parts[0]
			entry.URI = parts[1]
		}
	}

	// Section F: response status and headers.
	if lines := nonEmpty(tx.sections["F"]); len(lines) > 0 {
		entry.ResponseStatus = lines[0]
		if len(lines) > 1 {
			entry.ResponseHeaders = parseHeaders(lines[1:])
		}
	}

	// Section H: audit messages and Apache errors.
	for _, line := range nonEmpty(tx.sections["H"]) {
		if strings.Contains(line, "Message:") {
			if m := msgRe.FindStringSubmatch(line); m != nil {
				entry.Message = m[1]
			}
			if m := ruleIDRe.FindStringSubmatch(line); m != nil {
				entry.RuleID = m[1]
			}
			if m := severityRe.FindStringSubmatch(line); m != nil {
				entry.Severity = m[1]
			}
			if m := uriRe.FindStringSubmatch(line); m != nil && entry.URI == "" {
				entry.URI = m[1]
			}
		}
		if strings.Contains(line, "Apache-Error:") {
			entry.ApacheError = line
		}
	}

	if entry.RequestLine == "" && entry.Message == "" {
		log.Printf("Skipping transaction %s: no request line or message", tx.id)
		return nil
	}

	return entry
}

// parseHeaders joins header continuation lines (leading whitespace) and
// splits "Key: Value" pairs.
func parseHeaders(lines []string) map[string]string {
	headers := make(map[string]string)

	var joined []string
	var buffer string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			buffer += strings.TrimSpace(line)
			continue
		}
		if buffer != "" {
			joined = append(joined, buffer)
		}
		buffer = strings.TrimSpace(line)
	}
	if buffer != "" {
		joined = append(joined, buffer)
	}

	for _, line := range joined {
		if k, v, ok := strings.Cut(line, ":"); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return headers
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
