package logparse

import "time"

// AuditEntry holds one parsed ModSecurity audit transaction.
type AuditEntry struct {
	TransactionID   string            `json:"transaction_id"`
	Timestamp       time.Time         `json:"timestamp"`
	ClientIP        string            `json:"client_ip"`
	ClientPort      string            `json:"client_port"`
	ServerIP        string            `json:"server_ip"`
	ServerPort      string            `json:"server_port"`
	RequestLine     string            `json:"request_line"`
	Method          string            `json:"method"`
	URI             string            `json:"uri"`
	Host            string            `json:"host"`
	UserAgent       string            `json:"user_agent"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseStatus  string            `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Message         string            `json:"msg"`
	RuleID          string            `json:"rule_id"`
	Severity        string            `json:"severity"`
	ApacheError     string            `json:"apache_error,omitempty"`
}

// Raw returns a flat field map of the entry, used by the rule engine
// for condition matching.
func (e *AuditEntry) Raw() map[string]string {
	return map[string]string{
		"transaction_id":  e.TransactionID,
		"client_ip":       e.ClientIP,
		"server_ip":       e.ServerIP,
		"request_line":    e.RequestLine,
		"method":          e.Method,
		"uri":             e.URI,
		"host":            e.Host,
		"user_agent":      e.UserAgent,
		"response_status": e.ResponseStatus,
		"msg":             e.Message,
		"rule_id":         e.RuleID,
		"severity":        e.Severity,
	}
}
