package logparse_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/logparse"
)

const sampleTransaction = `--c3a04340-A--
[13/Jan/2024:10:15:32 +0100] 192.168.1.10 54321 10.0.0.5 80
--c3a04340-B--
GET /admin/config.php?id=1%20OR%201=1 HTTP/1.1
Host: victim.example.com
User-Agent: sqlmap/1.7
Accept: text/html,
 application/xhtml+xml
--c3a04340-F--
HTTP/1.1 403 Forbidden
Content-Type: text/html
--c3a04340-H--
Message: Access denied with code 403 (phase 2). Pattern match "union.*select" at ARGS:id. [file "/etc/modsec/rules.conf"] [line "12"] [id "942100"] [severity "CRITICAL"] [uri "/admin/config.php"]
--c3a04340-Z--
`

func TestParser_SingleTransaction(t *testing.T) {
	parser := logparse.NewParser()

	entry, err := parser.ParseTransaction(sampleTransaction)
	require.NoError(t, err)

	assert.Equal(t, "c3a04340", entry.TransactionID)
	assert.Equal(t, "192.168.1.10", entry.ClientIP)
	assert.Equal(t, "54321", entry.ClientPort)
	assert.Equal(t, "10.0.0.5", entry.ServerIP)
	assert.Equal(t, "80", entry.ServerPort)
	assert.Equal(t, 2024, entry.Timestamp.Year())

	assert.Equal(t, "GET /admin/config.php?id=1%20OR%201=1 HTTP/1.1", entry.RequestLine)
	assert.Equal(t, "GET", entry.Method)
	assert.Equal(t, "/admin/config.php?id=1%20OR%201=1", entry.URI)
	assert.Equal(t, "victim.example.com", entry.Host)
	assert.Equal(t, "sqlmap/1.7", entry.UserAgent)

	assert.Equal(t, "HTTP/1.1 403 Forbidden", entry.ResponseStatus)
	assert.Equal(t, "942100", entry.RuleID)
	assert.Equal(t, "CRITICAL", entry.Severity)
	assert.Contains(t, entry.Message, "Access denied with code 403")
}

func TestParser_MultilineHeaderJoined(t *testing.T) {
	parser := logparse.NewParser()

	entry, err := parser.ParseTransaction(sampleTransaction)
	require.NoError(t, err)

	// Continuation line folded back into the Accept header.
	assert.Equal(t, "text/html,application/xhtml+xml", entry.RequestHeaders["Accept"])
}

func TestParser_MultipleTransactions(t *testing.T) {
	parser := logparse.NewParser()

	second := strings.ReplaceAll(sampleTransaction, "c3a04340", "d4b15451")
	entries, err := parser.ParseReader(strings.NewReader(sampleTransaction + second))
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "c3a04340", entries[0].TransactionID)
	assert.Equal(t, "d4b15451", entries[1].TransactionID)
}

func TestParser_MalformedTransactionSkipped(t *testing.T) {
	parser := logparse.NewParser()

	// A transaction carrying neither a request line nor a message is dropped.
	raw := "--dead0001-A--\n[13/Jan/2024:10:15:32 +0100] 1.2.3.4 1 5.6.7.8 80\n--dead0001-Z--\n"
	entries, err := parser.ParseReader(strings.NewReader(raw + sampleTransaction))
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "c3a04340", entries[0].TransactionID)
}

func TestParser_EmptyInput(t *testing.T) {
	parser := logparse.NewParser()

	entries, err := parser.ParseReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
