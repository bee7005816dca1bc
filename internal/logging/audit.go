package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEntry records the outcome of a single edge request. Every failed
// request must produce an entry carrying the request id, tenant id, user id
// and endpoint so incidents can be traced back to a caller. Credentials and
// bearer tokens are never written here.
type AuditEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Auditor handles request audit logging.
type Auditor struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultAuditor = &Auditor{enabled: true, console: true}

// Audit returns the default auditor.
func Audit() *Auditor {
	return defaultAuditor
}

// SetOutput sets the audit output file.
func (a *Auditor) SetOutput(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		a.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	a.file = f
	return nil
}

// SetConsole enables/disables console output.
func (a *Auditor) SetConsole(enabled bool) {
	a.mu.Lock()
	a.console = enabled
	a.mu.Unlock()
}

// Log writes an audit entry.
func (a *Auditor) Log(entry *AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if a.console {
		line := fmt.Sprintf("[audit] %d %s %s %s %dms", entry.Status, entry.Method, entry.Endpoint, entry.RequestID, entry.DurationMs)
		if entry.TenantID != "" {
			line += " tenant=" + entry.TenantID
		}
		if entry.ErrorCode != "" {
			line += " error=" + entry.ErrorCode
		}
		fmt.Println(line)
	}

	if a.file != nil {
		data, _ := json.Marshal(entry)
		a.file.Write(append(data, '\n'))
	}
}

// Close closes the audit log file.
func (a *Auditor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		a.file.Close()
		a.file = nil
	}
}
