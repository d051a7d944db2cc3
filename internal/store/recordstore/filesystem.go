package recordstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streamop/pkg/logging"
)

// Filesystem keeps one <name>.json file per stream in a flat directory.
type Filesystem struct {
	dir string
}

// NewFilesystem creates the record directory if needed and returns a store
// over it.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory %s: %w", dir, err)
	}
	return &Filesystem{dir: dir}, nil
}

// Reconcile converges the record for the named stream. A nil record means
// the file must not exist. An unchanged record is not rewritten, so the
// file's mtime keeps telling when the stream last actually changed.
func (s *Filesystem) Reconcile(_ context.Context, name string, record []byte) error {
	path, err := s.fileFor(name)
	if err != nil {
		return err
	}

	if record == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove record for %q: %w", name, err)
		}
		logging.Debug(subsystem, "Record for %s absent", name)
		return nil
	}

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, record) {
		logging.Debug(subsystem, "Record for %s already current", name)
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read record for %q: %w", name, err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn record.
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("stage record for %q: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		return fmt.Errorf("write record for %q: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write record for %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write record for %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store record for %q: %w", name, err)
	}
	logging.Info(subsystem, "Record for %s updated", name)
	return nil
}

// Get returns the stored record for the named stream.
func (s *Filesystem) Get(_ context.Context, name string) ([]byte, error) {
	path, err := s.fileFor(name)
	if err != nil {
		return nil, err
	}
	record, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("record for %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read record for %q: %w", name, err)
	}
	return record, nil
}

// KnownNames lists the streams that have a record on disk.
func (s *Filesystem) KnownNames(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list record directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// fileFor maps a stream name to its record path. Names come from resource
// metadata or backend listings; anything that would escape the directory is
// rejected rather than resolved.
func (s *Filesystem) fileFor(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("record name %q is not a plain file name", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}
