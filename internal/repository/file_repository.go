package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/mir00r/domain-router/internal/domain"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/mir00r/domain-router/pkg/logger"
)

const recordExt = ".json"

// FileRecordRepository implements ports.RecordStore as a directory holding
// one JSON file per domain. Files are replaced atomically, and files written
// in the legacy format are normalized when read.
type FileRecordRepository struct {
	dir    string
	logger *logger.Logger

	// serializes writers within this process
	mu sync.Mutex
}

// NewFileRecordRepository creates the directory if needed and returns a store
// rooted at it
func NewFileRecordRepository(dir string, log *logger.Logger) (*FileRecordRepository, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, lberrors.NewMissingFieldError("store", "store.directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInternalError, "store", "failed to create record directory")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &FileRecordRepository{dir: dir, logger: log.StoreLogger()}, nil
}

// Dir returns the directory the store writes to
func (r *FileRecordRepository) Dir() string {
	return r.dir
}

// Get reads the record for host
func (r *FileRecordRepository) Get(ctx context.Context, host string) (*record.Record, error) {
	key, err := domain.CanonicalHostname(host)
	if err != nil {
		return nil, err
	}

	path := r.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, lberrors.NewRecordNotFoundError(key)
	}
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInternalError, "store", "failed to read record").
			WithMetadata("path", path)
	}

	rec, format, err := record.Decode(data)
	if err != nil {
		return nil, err
	}
	if format == record.FormatLegacy {
		r.logger.WithFields(map[string]interface{}{
			"domain": key,
			"path":   path,
		}).Info("Normalized legacy routing record")
	}
	return rec, nil
}

// Put writes rec, replacing any previous version atomically
func (r *FileRecordRepository) Put(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return lberrors.NewMissingFieldError("store", "record")
	}
	key, err := domain.CanonicalHostname(rec.Domain)
	if err != nil {
		return err
	}
	data, err := record.Encode(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.path(key)
	if err := writeAtomically(r.dir, path, data); err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeInternalError, "store", "failed to write record").
			WithMetadata("path", path)
	}

	r.logger.WithFields(map[string]interface{}{
		"domain": key,
		"path":   path,
		"bytes":  len(data),
	}).Debug("Routing record written")
	return nil
}

// Delete removes the record for host
func (r *FileRecordRepository) Delete(ctx context.Context, host string) error {
	key, err := domain.CanonicalHostname(host)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = os.Remove(r.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return lberrors.NewRecordNotFoundError(key)
	}
	if err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeInternalError, "store", "failed to delete record")
	}
	return nil
}

// List returns the domains of all stored records in ascending order
func (r *FileRecordRepository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInternalError, "store", "failed to list records")
	}

	domains := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		domains = append(domains, fileDomain(strings.TrimSuffix(name, recordExt)))
	}
	sort.Strings(domains)
	return domains, nil
}

func (r *FileRecordRepository) path(key string) string {
	return filepath.Join(r.dir, fileKey(key)+recordExt)
}

// fileKey maps a canonical hostname to a file name; "*" is not portable in
// file names.
func fileKey(host string) string {
	return strings.Replace(host, "*", "_wildcard_", 1)
}

func fileDomain(key string) string {
	return strings.Replace(key, "_wildcard_", "*", 1)
}

// writeAtomically writes data to a temporary file in dir and renames it over
// path, so readers see either the old or the new content.
func writeAtomically(dir, path string, data []byte) error {
	f, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("failed to open temporary file: %w", err)
	}
	defer f.Cleanup()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	return f.CloseAtomicallyReplace()
}
