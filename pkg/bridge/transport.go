// Package bridge implements the line-delimited JSON protocol: the request
// dispatch loop, the response writer, and the asynchronous event emitter,
// all sharing one output stream under a single writer lock.
package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Transport reads and writes protocol messages over a byte stream.
// Messages are newline-delimited JSON, one object per line, flushed after
// every write.
//
// The write mutex is the process-wide writer lock: the dispatch goroutine's
// responses and any number of concurrently emitting script tasks serialize
// through it, so two writers never interleave mid-line.
type Transport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
}

// NewTransport creates a transport over the given reader and writer.
func NewTransport(r io.Reader, w io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
	}
}

// ReadLine reads the next non-empty input line. It returns io.EOF once
// input is exhausted; a final unterminated line is still delivered first.
func (t *Transport) ReadLine() (json.RawMessage, error) {
	for {
		line, err := t.reader.ReadBytes('\n')

		// Trim trailing newline
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		if len(line) > 0 {
			return json.RawMessage(line), nil
		}
		if err != nil {
			return nil, err
		}
		// Skip empty lines
	}
}

// Write serializes msg as one line and flushes it, holding the writer lock
// for the whole serialize-write-flush sequence. Safe from any goroutine.
func (t *Transport) Write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}

	return nil
}
