package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentswarm/swarmd/internal/ndjson"
	"github.com/agentswarm/swarmd/internal/protocol"
	"log/slog"
)

// EventLog writes protocol messages to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventLog creates a new event log. maxMessageBytes overrides
// ndjson.MaxMessageSize for this log's encoder when positive (typically
// config.Policy.MessageMaxBytes); 0 keeps the package default.
func NewEventLog(logPath string, maxMessageBytes int, logger *slog.Logger) (*EventLog, error) {
	// Ensure directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open file for appending (create if not exists)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	encoder := ndjson.NewEncoder(file, logger)
	encoder.MaxMessageSize = maxMessageBytes

	return &EventLog{
		file:    file,
		encoder: encoder,
		logger:  logger,
	}, nil
}

// WriteEvent appends a ProgressEvent to the log.
func (l *EventLog) WriteEvent(evt *protocol.ProgressEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(evt)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
