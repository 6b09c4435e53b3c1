// Copyright 2025 James Ross
package intake

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEntry is one line of the intake audit log: every mutating request
// (job/schedule create, update, disable), regardless of outcome.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
	TenantID  string    `json:"tenantId"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	RemoteIP  string    `json:"remoteIp"`
}

// AuditLogger writes newline-delimited JSON audit entries to a
// size/age-rotated file.
type AuditLogger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

func NewAuditLogger(path string) *AuditLogger {
	return &AuditLogger{out: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}}
}

func (a *AuditLogger) Log(entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.out.Write(data)
	return err
}

func (a *AuditLogger) Close() error {
	return a.out.Close()
}
