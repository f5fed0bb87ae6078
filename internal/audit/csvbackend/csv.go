package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/seedling/internal/audit"
)

// ensure csvSink implements audit.Sink
var _ audit.Sink = (*csvSink)(nil)

type csvSink struct {
	mu   sync.Mutex
	file *os.File
}

// columns defines the CSV column order
var columns = []string{
	"id",
	"run_id",
	"provider",
	"request",
	"attempt",
	"quota_consumed",
	"success",
	"cache_hit",
	"error_kind",
	"error",
	"duration_ms",
	"created_at",
}

// New creates a CSV-backed audit.Sink appending to filePath. A header row
// is written when the file is empty.
func New(filePath string) (audit.Sink, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit csv: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit csv: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &csvSink{file: f}, nil
}

func (s *csvSink) Append(_ context.Context, rec *audit.Record) error {
	audit.Prepare(rec)

	row := []string{
		rec.ID,
		rec.RunID,
		rec.Provider,
		rec.Request,
		strconv.Itoa(rec.Attempt),
		strconv.Itoa(rec.QuotaConsumed),
		strconv.FormatBool(rec.Success),
		strconv.FormatBool(rec.CacheHit),
		rec.ErrorKind,
		rec.Error,
		strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		rec.CreatedAt.Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek audit csv: %w", err)
	}

	w := csv.NewWriter(s.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write audit row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush audit row: %w", err)
	}
	return nil
}

func (s *csvSink) Query(_ context.Context, filter audit.Filter) ([]*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind audit csv: %w", err)
	}
	defer func() {
		_, _ = s.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(s.file)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*audit.Record{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var matched []*audit.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read audit row: %w", err)
		}
		if len(row) != len(columns) {
			continue // skip malformed rows
		}

		rec := parseRow(row)
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}

	return filter.Page(matched), nil
}

func parseRow(row []string) *audit.Record {
	attempt, _ := strconv.Atoi(row[4])
	quota, _ := strconv.Atoi(row[5])
	success, _ := strconv.ParseBool(row[6])
	cacheHit, _ := strconv.ParseBool(row[7])
	durationMs, _ := strconv.ParseInt(row[10], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, row[11])

	return &audit.Record{
		ID:            row[0],
		RunID:         row[1],
		Provider:      row[2],
		Request:       row[3],
		Attempt:       attempt,
		QuotaConsumed: quota,
		Success:       success,
		CacheHit:      cacheHit,
		ErrorKind:     row[8],
		Error:         row[9],
		Duration:      time.Duration(durationMs) * time.Millisecond,
		CreatedAt:     createdAt,
	}
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
