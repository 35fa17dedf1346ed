package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

func TestNewWriteAheadRecord_StampsUniqueIDs(t *testing.T) {
	r1 := NewWriteAheadRecord(1, 1, nil)
	r2 := NewWriteAheadRecord(1, 2, nil)
	assert.NotEmpty(t, r1.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestFileSink_AppendCreatesOnePerSymbol(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Append(NewWriteAheadRecord(1, 1, []matching.EngineEvent{{Kind: matching.EventTickComplete}})))
	require.NoError(t, sink.Append(NewWriteAheadRecord(2, 1, nil)))

	_, err = os.Stat(filepath.Join(dir, "symbol-1.wal"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "symbol-2.wal"))
	assert.NoError(t, err)
}

func TestFileSink_AppendsNewlineDelimitedRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	for tick := matching.TickID(1); tick <= 3; tick++ {
		require.NoError(t, sink.Append(NewWriteAheadRecord(1, tick, nil)))
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "symbol-1.wal"))
	require.NoError(t, err)
	defer f.Close()

	var ticks []matching.TickID
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec WriteAheadRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ticks = append(ticks, rec.Tick)
	}
	assert.Equal(t, []matching.TickID{1, 2, 3}, ticks)
}

func TestNewFileSink_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "wal")
	_, err := NewFileSink(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
