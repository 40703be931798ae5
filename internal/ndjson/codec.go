package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB)
const MaxMessageSize = 256 * 1024

// Encoder writes NDJSON messages to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger

	// MaxMessageSize overrides the package default MaxMessageSize when
	// positive, mirroring internal/supervisor's MaxLineBytes field: set it
	// right after construction, before the first Encode call.
	MaxMessageSize int
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes a message as a single JSON line
func (e *Encoder) Encode(v any) error {
	limit := MaxMessageSize
	if e.MaxMessageSize > 0 {
		limit = e.MaxMessageSize
	}

	// Marshal to JSON
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// Check size limit
	if len(data) > limit {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", limit,
			"overflow", len(data)-limit)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), limit)
	}

	// Write JSON + newline
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for real-time communication
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON messages from an input stream
type Decoder struct {
	scanner        *bufio.Scanner
	logger         *slog.Logger
	lineNum        int
	maxMessageSize int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	d := &Decoder{
		scanner:        bufio.NewScanner(r),
		logger:         logger,
		lineNum:        0,
		maxMessageSize: MaxMessageSize,
	}
	d.scanner.Buffer(make([]byte, MaxMessageSize), MaxMessageSize)
	return d
}

// SetMaxMessageSize overrides the decoder's maximum line size, mirroring
// Encoder.MaxMessageSize. It must be called before the first Decode call:
// bufio.Scanner panics if its buffer is set once scanning has started.
func (d *Decoder) SetMaxMessageSize(n int) {
	if n <= 0 {
		return
	}
	d.maxMessageSize = n
	d.scanner.Buffer(make([]byte, n), n)
}

// Decode reads the next NDJSON message
func (d *Decoder) Decode(v any) error {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return fmt.Errorf("scanner error at line %d: %w", d.lineNum, err)
		}
		return io.EOF
	}

	d.lineNum++
	data := d.scanner.Bytes()

	// Check size (should be caught by scanner buffer, but double-check)
	if len(data) > d.maxMessageSize {
		d.logger.Error("line exceeds size limit",
			"line", d.lineNum,
			"size", len(data),
			"limit", d.maxMessageSize)
		return fmt.Errorf("line %d size %d exceeds limit %d", d.lineNum, len(data), d.maxMessageSize)
	}

	// Skip empty lines
	if len(data) == 0 {
		return d.Decode(v)
	}

	// Unmarshal JSON
	if err := json.Unmarshal(data, v); err != nil {
		d.logger.Error("failed to unmarshal JSON",
			"line", d.lineNum,
			"error", err,
			"data", string(data[:min(100, len(data))]))
		return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
