package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const recordFileName = "data.json"

// FileStore keeps the record as one JSON document. A save replaces the file by
// rename, so a power cut leaves either the old or the new record.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, logger: zap.L()}
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Path() string {
	return filepath.Join(s.dir, recordFileName)
}

func (s *FileStore) mount() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrMount, err)
	}
	return nil
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.mount(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(rec.Bounded(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, recordFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("open temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	if d, err := os.Open(s.dir); err == nil {
		if err := d.Sync(); err != nil {
			s.logger.Debug("directory sync failed", zap.Error(err))
		}
		_ = d.Close()
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := s.mount(); err != nil {
		return Record{}, err
	}
	payload, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
