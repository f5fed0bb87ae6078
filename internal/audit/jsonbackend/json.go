package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/FranksOps/seedling/internal/audit"
)

// ensure jsonSink implements audit.Sink
var _ audit.Sink = (*jsonSink)(nil)

type jsonSink struct {
	mu   sync.Mutex
	file *os.File
}

// New creates an NDJSON-backed audit.Sink appending to filePath.
func New(filePath string) (audit.Sink, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &jsonSink{file: f}, nil
}

func (s *jsonSink) Append(_ context.Context, rec *audit.Record) error {
	audit.Prepare(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (s *jsonSink) Query(_ context.Context, filter audit.Filter) ([]*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind audit log: %w", err)
	}
	defer func() {
		_, _ = s.file.Seek(0, io.SeekEnd)
	}()

	// NDJSON has no index: read everything, filter, then page.
	var matched []*audit.Record
	scanner := bufio.NewScanner(s.file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r audit.Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		if filter.Matches(&r) {
			matched = append(matched, &r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return filter.Page(matched), nil
}

func (s *jsonSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
