package debug

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TraceLogger writes one JSON line per HTTP exchange to a trace file
type TraceLogger struct {
	mu       sync.Mutex
	file     *os.File
	logger   *log.Logger
	enabled  bool
	filename string
}

// NewTraceLogger creates a new trace logger. When dir is empty the trace
// file goes to the system temp directory.
func NewTraceLogger(enabled bool, dir string) (*TraceLogger, error) {
	if !enabled {
		return &TraceLogger{enabled: false}, nil
	}

	if dir == "" {
		dir = os.TempDir()
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("tap_aptem_trace_%s.log", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	logger := log.New()
	logger.SetOutput(file)
	logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.SetLevel(log.TraceLevel)

	t := &TraceLogger{
		file:     file,
		logger:   logger,
		enabled:  enabled,
		filename: filename,
	}

	t.entry().WithFields(log.Fields{
		"filename": filename,
		"pid":      os.Getpid(),
	}).Trace("Trace logging started")

	return t, nil
}

func (t *TraceLogger) entry() *log.Entry {
	return log.NewEntry(t.logger)
}

// Enabled reports whether entries are written
func (t *TraceLogger) Enabled() bool {
	return t != nil && t.enabled && t.file != nil
}

// LogRequest records an outgoing request with masked URL and headers
func (t *TraceLogger) LogRequest(req *http.Request, attempt int) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry().WithFields(log.Fields{
		"method":  req.Method,
		"url":     MaskURL(req.URL.String()),
		"headers": MaskHeaders(req.Header),
		"attempt": attempt,
	}).Trace("request")
}

// LogResponse records a response status, size and latency
func (t *TraceLogger) LogResponse(req *http.Request, status, size int, elapsed time.Duration) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry().WithFields(log.Fields{
		"method":     req.Method,
		"url":        MaskURL(req.URL.String()),
		"status":     status,
		"bytes":      size,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Trace("response")
}

// LogError logs an error with context
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entry().WithFields(log.Fields{
		"error": err.Error(),
		"data":  data,
	}).Error(context)
}

// GetFilename returns the trace filename
func (t *TraceLogger) GetFilename() string {
	return t.filename
}

// Close closes the trace file
func (t *TraceLogger) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry().Trace("Trace logging stopped")
	err := t.file.Close()
	t.file = nil
	return err
}
