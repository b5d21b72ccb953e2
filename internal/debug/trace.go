package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceLogger writes one JSON object per line describing each Web API
// exchange. Credentials are masked before they are written.
type TraceLogger struct {
	mu       sync.Mutex
	out      io.Writer
	file     *os.File
	enabled  bool
	filename string
}

// NewTraceLogger creates a trace file in the temp directory when enabled
func NewTraceLogger(enabled bool) (*TraceLogger, error) {
	if !enabled {
		return &TraceLogger{enabled: false}, nil
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(os.TempDir(), fmt.Sprintf("xrm_trace_%s.log", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	logger := &TraceLogger{
		out:      file,
		file:     file,
		enabled:  true,
		filename: filename,
	}

	logger.Log("TRACE", "Trace logging started", map[string]interface{}{
		"filename": filename,
		"pid":      os.Getpid(),
	})

	return logger, nil
}

// NewTraceWriter traces to w instead of a file
func NewTraceWriter(w io.Writer) *TraceLogger {
	return &TraceLogger{out: w, enabled: true}
}

// Log writes a trace entry
func (t *TraceLogger) Log(level, message string, data interface{}) {
	if t == nil || !t.enabled || t.out == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"level":     level,
		"message":   message,
	}

	if data != nil {
		entry["data"] = data
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[TRACE ERROR] Failed to marshal entry: %v\n", err)
		return
	}
	fmt.Fprintf(t.out, "%s\n", jsonData)
	if t.file != nil {
		t.file.Sync()
	}
}

// LogRequest logs an outgoing Web API request
func (t *TraceLogger) LogRequest(method, rawURL string, header http.Header, bodySize int) {
	t.Log("REQUEST", "Outgoing request", map[string]interface{}{
		"method":  method,
		"url":     MaskURL(rawURL),
		"headers": MaskHeaders(header),
		"bytes":   bodySize,
	})
}

// LogResponse logs the outcome of a Web API request
func (t *TraceLogger) LogResponse(method, rawURL string, status int, elapsed time.Duration, bodySize int, err error) {
	data := map[string]interface{}{
		"method":     method,
		"url":        MaskURL(rawURL),
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
		"bytes":      bodySize,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	t.Log("RESPONSE", "Incoming response", data)
}

// LogError logs an error with context
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	t.Log("ERROR", context, map[string]interface{}{
		"error": err.Error(),
		"data":  data,
	})
}

// GetFilename returns the trace filename
func (t *TraceLogger) GetFilename() string {
	return t.filename
}

// Close closes the trace file
func (t *TraceLogger) Close() error {
	if t.file != nil {
		t.Log("TRACE", "Trace logging stopped", nil)
		return t.file.Close()
	}
	return nil
}
