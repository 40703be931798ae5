package ndjson

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/agentswarm/swarmd/internal/protocol"
)

func TestEncoderDecoderProgressEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	evt := protocol.ProgressEvent{
		JobID:     "job-1",
		AgentKey:  protocol.AgentKeyPrimary1,
		Kind:      protocol.EventKindStdout,
		Payload:   "building...",
		Timestamp: time.Now().UTC(),
	}

	if err := encoder.Encode(evt); err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}

	var decoded protocol.ProgressEvent
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}

	if decoded.JobID != evt.JobID {
		t.Errorf("job_id mismatch: got %s, want %s", decoded.JobID, evt.JobID)
	}
	if decoded.Kind != evt.Kind {
		t.Errorf("kind mismatch: got %s, want %s", decoded.Kind, evt.Kind)
	}
}

func TestEncoderSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	encoder := NewEncoder(&buf, logger)

	evt := protocol.ProgressEvent{
		JobID:    "job-1",
		AgentKey: protocol.AgentKeyPrimary1,
		Kind:     protocol.EventKindStdout,
		Payload:  strings.Repeat("x", MaxMessageSize),
	}

	err := encoder.Encode(evt)
	if err == nil {
		t.Error("expected error for oversized message, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("expected 'exceeds limit' error, got: %v", err)
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	largeLine := strings.Repeat("x", MaxMessageSize+1000)
	input := strings.NewReader(largeLine + "\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decoder := NewDecoder(input, logger)

	var msg map[string]any
	err := decoder.Decode(&msg)
	if err == nil {
		t.Error("expected error for oversized line, got nil")
	}
}

func TestDecoderEmptyLines(t *testing.T) {
	input := strings.NewReader("\n\n{\"job_id\":\"job-1\",\"agent_key\":\"primary-1\",\"kind\":\"stdout\",\"payload\":\"hi\",\"timestamp\":\"2025-10-19T12:00:00Z\"}\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decoder := NewDecoder(input, logger)

	var evt protocol.ProgressEvent
	if err := decoder.Decode(&evt); err != nil {
		t.Fatalf("failed to decode after empty lines: %v", err)
	}

	if evt.JobID != "job-1" {
		t.Errorf("got job_id %s, want job-1", evt.JobID)
	}
}

func TestDecoderEOF(t *testing.T) {
	input := strings.NewReader("")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decoder := NewDecoder(input, logger)

	var msg map[string]any
	err := decoder.Decode(&msg)
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMultipleMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	encoder := NewEncoder(&buf, logger)

	messages := []protocol.ProgressEvent{
		{JobID: "job-1", AgentKey: protocol.AgentKeyPrimary1, Kind: protocol.EventKindStdout, Payload: "one"},
		{JobID: "job-1", AgentKey: protocol.AgentKeyPrimary1, Kind: protocol.EventKindStdout, Payload: "two"},
		{JobID: "job-1", AgentKey: protocol.AgentKeyPrimary1, Kind: protocol.EventKindStdout, Payload: "three"},
	}

	for _, msg := range messages {
		if err := encoder.Encode(msg); err != nil {
			t.Fatalf("failed to encode message: %v", err)
		}
	}

	decoder := NewDecoder(&buf, logger)
	for i, expected := range messages {
		var decoded protocol.ProgressEvent
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("failed to decode message %d: %v", i, err)
		}
		if decoded.Payload != expected.Payload {
			t.Errorf("message %d: got payload %s, want %s", i, decoded.Payload, expected.Payload)
		}
	}

	var extra protocol.ProgressEvent
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}
