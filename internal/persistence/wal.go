package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// WriteAheadRecord is one durable record of a tick's events, identified
// by a globally-unique, time-sortable id: replay and audit require a
// total order across symbols and processes, which a per-symbol tick
// counter cannot provide alone.
type WriteAheadRecord struct {
	ID     string
	Symbol uint64
	Tick   matching.TickID
	Events []matching.EngineEvent
}

// NewWriteAheadRecord stamps a fresh ksuid for (symbol, tick, events).
func NewWriteAheadRecord(symbol uint64, tick matching.TickID, events []matching.EngineEvent) WriteAheadRecord {
	return WriteAheadRecord{
		ID:     ksuid.New().String(),
		Symbol: symbol,
		Tick:   tick,
		Events: events,
	}
}

// Sink durably appends write-ahead records.
type Sink interface {
	Append(rec WriteAheadRecord) error
}

// FileSink appends newline-delimited JSON records to one file per
// symbol under a directory, each append fsynced before returning so a
// consumer observing a record after a crash can trust it is durable.
type FileSink struct {
	mu   sync.Mutex
	dir  string
	open map[uint64]*os.File
}

// NewFileSink constructs a FileSink rooted at dir, creating it if absent.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create snapshot dir: %w", err)
	}
	return &FileSink{dir: dir, open: make(map[uint64]*os.File)}, nil
}

// Append implements Sink.
func (s *FileSink) Append(rec WriteAheadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.open[rec.Symbol]
	if !ok {
		path := filepath.Join(s.dir, fmt.Sprintf("symbol-%d.wal", rec.Symbol))
		var err error
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("persistence: open wal file: %w", err)
		}
		s.open[rec.Symbol] = f
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("persistence: marshal wal record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("persistence: write wal record: %w", err)
	}
	return f.Sync()
}

// Close flushes and closes every open symbol file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.open {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
