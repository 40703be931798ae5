// Package ledger reads back a job's persisted ProgressEvent stream for
// post-mortem inspection and test assertions.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/agentswarm/swarmd/internal/ndjson"
	"github.com/agentswarm/swarmd/internal/protocol"
)

// Ledger holds every ProgressEvent persisted for one job, in file order.
type Ledger struct {
	Events []*protocol.ProgressEvent
}

// ReadLedger reads and parses an NDJSON event log file, using
// ndjson's default message-size limit.
func ReadLedger(path string) (*Ledger, error) {
	return ReadLedgerWithLimit(path, 0)
}

// ReadLedgerWithLimit is ReadLedger with an overridden maximum message
// size (typically the job's config.Policy.MessageMaxBytes, when that
// differs from the package default and the caller needs to read back
// events written under that policy).
func ReadLedgerWithLimit(path string, maxMessageBytes int) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	decoder := ndjson.NewDecoder(bufio.NewReader(file), logger)
	decoder.SetMaxMessageSize(maxMessageBytes)

	ledger := &Ledger{Events: make([]*protocol.ProgressEvent, 0)}
	for {
		var evt protocol.ProgressEvent
		err := decoder.Decode(&evt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry: %w", err)
		}
		ledger.Events = append(ledger.Events, &evt)
	}

	return ledger, nil
}

// EventsForAgent returns every event recorded for the given agent key, in
// production order.
func (l *Ledger) EventsForAgent(key protocol.AgentKey) []*protocol.ProgressEvent {
	var out []*protocol.ProgressEvent
	for _, evt := range l.Events {
		if evt.AgentKey == key {
			out = append(out, evt)
		}
	}
	return out
}

// HasTerminalEvent reports whether the given agent's stream contains a
// status event carrying one of the terminal classifications.
func (l *Ledger) HasTerminalEvent(key protocol.AgentKey) bool {
	for _, evt := range l.EventsForAgent(key) {
		if evt.Kind == protocol.EventKindStatus && isTerminalPayload(evt.Payload) {
			return true
		}
	}
	return false
}

func isTerminalPayload(payload string) bool {
	switch protocol.Classification(payload) {
	case protocol.ClassificationSucceeded, protocol.ClassificationFailed,
		protocol.ClassificationTimeout, protocol.ClassificationCancelled:
		return true
	default:
		return false
	}
}

// LastEvent returns the last event in the ledger, or nil if empty.
func (l *Ledger) LastEvent() *protocol.ProgressEvent {
	if len(l.Events) == 0 {
		return nil
	}
	return l.Events[len(l.Events)-1]
}
