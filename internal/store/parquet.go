package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// HistoryStore keeps bar history in Parquet files on disk, one file per
// (collection, item). Collections group bars by data family and size, e.g.
// "trades-30m" or "option-bidask-30m"; items are tickers or option local
// symbols.
//
// Layout: <DataDir>/<collection>/<ITEM>.parquet
type HistoryStore struct {
	DataDir string
}

// NewHistoryStore creates a HistoryStore rooted at the given data directory.
func NewHistoryStore(dataDir string) *HistoryStore {
	return &HistoryStore{DataDir: dataDir}
}

// Append merges records into the item's file: existing rows are kept,
// incoming rows win on equal timestamps, and the result is sorted by time.
// Re-downloading an overlapping window is therefore idempotent.
func (s *HistoryStore) Append(collection, item string, records []BarRecord) error {
	if len(records) == 0 {
		return nil
	}
	path := s.itemPath(collection, item)

	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, item, err)
	}
	return nil
}

// Read returns all records stored for the item, sorted by timestamp. A
// missing file reads as empty.
func (s *HistoryStore) Read(collection, item string) ([]BarRecord, error) {
	path := s.itemPath(collection, item)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, item, err)
	}
	return records, nil
}

// ListItems lists the items present in a collection, sorted.
func (s *HistoryStore) ListItems(collection string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			items = append(items, name)
		}
	}
	sort.Strings(items)
	return items, nil
}

// ListCollections lists the collection directories present in the store.
func (s *HistoryStore) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var collections []string
	for _, e := range entries {
		if e.IsDir() {
			collections = append(collections, e.Name())
		}
	}
	sort.Strings(collections)
	return collections, nil
}

// itemPath returns the filesystem path for an item's Parquet file. Option
// local symbols contain spaces; they are collapsed so the ticker reads as a
// single path segment.
func (s *HistoryStore) itemPath(collection, item string) string {
	name := strings.ReplaceAll(strings.ToUpper(item), " ", "")
	return filepath.Join(s.DataDir, collection, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates records by timestamp, preferring incoming
// over existing. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
