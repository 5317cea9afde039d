package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	// FormatJSONL writes one JSON record per line.
	FormatJSONL Format = "jsonl"

	// FormatYAML writes one YAML document per record.
	FormatYAML Format = "yaml"
)

// ParseFormat converts a case-insensitive format name into a Format.
// "json" is accepted as an alias for jsonl.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected jsonl or yaml)", s)
	}
}

// Writer outputs typed records.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each call emits one complete record.
type Writer interface {
	// Write emits a record of recordType with data as its payload.
	Write(ctx context.Context, recordType string, data any) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// New returns a Writer for format.
func New(w io.Writer, format Format, requestID string) (Writer, error) {
	switch format {
	case FormatJSONL, "":
		return NewJSONLWriter(w, requestID), nil
	case FormatYAML:
		return NewYAMLWriter(w, requestID), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w         io.Writer
	requestID string
	mu        sync.Mutex

	closed bool
}

// NewJSONLWriter creates a JSONL writer whose records carry requestID.
func NewJSONLWriter(w io.Writer, requestID string) *JSONLWriter {
	return &JSONLWriter{
		w:         w,
		requestID: requestID,
	}
}

// Write emits a record.
func (jw *JSONLWriter) Write(ctx context.Context, recordType string, data any) error {
	return jw.writeRecord(ctx, recordType, data)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// Close marks the writer as closed.
//
// The underlying writer is NOT closed; the caller owns it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line under the
// mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal outside the lock.
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:      recordType,
		TS:        time.Now().UTC(),
		RequestID: jw.requestID,
		Data:      dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// yamlRecord mirrors Record with a decoded payload so YAML output nests the
// data instead of embedding a JSON string.
type yamlRecord struct {
	Type      string    `yaml:"type"`
	TS        time.Time `yaml:"ts"`
	RequestID string    `yaml:"request_id"`
	Data      any       `yaml:"data"`
}

// YAMLWriter writes records as a stream of YAML documents.
//
// Payloads pass through their JSON encoding first, so json struct tags and
// custom MarshalJSON methods shape YAML output exactly as they shape JSONL.
type YAMLWriter struct {
	enc       *yaml.Encoder
	requestID string
	mu        sync.Mutex

	closed  bool
	started bool
}

// NewYAMLWriter creates a YAML writer whose records carry requestID.
func NewYAMLWriter(w io.Writer, requestID string) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{enc: enc, requestID: requestID}
}

// Write emits a record.
func (yw *YAMLWriter) Write(ctx context.Context, recordType string, data any) error {
	return yw.writeRecord(ctx, recordType, data)
}

// WriteError emits an error record.
func (yw *YAMLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return yw.writeRecord(ctx, TypeError, err)
}

// Close flushes the encoder. The underlying writer is not closed.
func (yw *YAMLWriter) Close() error {
	yw.mu.Lock()
	defer yw.mu.Unlock()

	if yw.closed {
		return nil
	}
	yw.closed = true
	if !yw.started {
		return nil
	}
	if err := yw.enc.Close(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

func (yw *YAMLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	yw.mu.Lock()
	defer yw.mu.Unlock()

	if yw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := yamlRecord{
		Type:      recordType,
		TS:        time.Now().UTC(),
		RequestID: yw.requestID,
		Data:      payload,
	}
	yw.started = true
	if err := yw.enc.Encode(record); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

var (
	_ Writer = (*JSONLWriter)(nil)
	_ Writer = (*YAMLWriter)(nil)
)
