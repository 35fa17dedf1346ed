// Package persistence implements snapshot/restore and write-ahead
// recording for a symbol's engine state: a deterministic replayable
// engine needs a restart path.
package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// EncodeSnapshot serializes snap as zstd-compressed JSON. JSON keeps the
// format self-describing across schema additions; zstd keeps snapshot
// storage cost bounded for wide, deep books (domain stack: compression
// grounded on the corpus's adaptive message compressor).
func EncodeSnapshot(snap matching.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("persistence: marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("persistence: new zstd writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("persistence: compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("persistence: close zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (matching.Snapshot, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return matching.Snapshot{}, fmt.Errorf("persistence: new zstd reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return matching.Snapshot{}, fmt.Errorf("persistence: decompress snapshot: %w", err)
	}

	var snap matching.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return matching.Snapshot{}, fmt.Errorf("persistence: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
