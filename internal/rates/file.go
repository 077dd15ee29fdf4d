package rates

import (
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"moneyman/internal/model"
)

// snapshotJSON is the on-disk layout of a snapshot.
type snapshotJSON struct {
	Timestamp int64              `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
}

// SnapshotFile persists a single snapshot as JSON. Paths ending in ".zst"
// are zstd-compressed.
type SnapshotFile struct {
	path     string
	compress bool
}

// NewSnapshotFile creates a SnapshotFile at path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{
		path:     path,
		compress: strings.HasSuffix(path, ".zst"),
	}
}

// Path returns the file location.
func (f *SnapshotFile) Path() string {
	return f.path
}

// Load reads the persisted snapshot. A missing file yields (nil, nil).
func (f *SnapshotFile) Load() (*model.RateSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if f.compress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(raw.Rates) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty rate table")
	}
	return &model.RateSnapshot{
		FetchedAt: time.Unix(raw.Timestamp, 0).UTC(),
		Rates:     raw.Rates,
	}, nil
}

// Save writes the snapshot atomically through a temporary file.
func (f *SnapshotFile) Save(snap *model.RateSnapshot) error {
	data, err := json.Marshal(snapshotJSON{
		Timestamp: snap.FetchedAt.Unix(),
		Rates:     snap.Rates,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if f.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
		_ = enc.Close()
	}

	tmp := f.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
