package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/florianilch/realmauth/internal/autherr"
)

// fileFormat is the on-disk document.
type fileFormat struct {
	Records []*Record `json:"records"`
}

// FileBackend stores records as JSON with atomic writes and secure permissions.
// Writes use temp file + rename for crash safety.
type FileBackend struct {
	fs       afero.Fs
	filePath string
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) FileOption {
	return func(f *FileBackend) {
		f.fs = fsys
	}
}

// NewFileBackend creates a FileBackend for the given path, creating parent directories
// with 0700 permissions if they don't exist. The file itself is created on first save.
func NewFileBackend(filePath string, opts ...FileOption) (*FileBackend, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, autherr.InvalidArgument("File token store requires a token store file path")
	}

	f := &FileBackend{
		fs:       afero.NewOsFs(),
		filePath: filePath,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.fs.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}
	return f, nil
}

// NewFileStore returns a Store persisting to filePath.
func NewFileStore(filePath string, fileOpts []FileOption, opts ...StoreOption) (*Store, error) {
	backend, err := NewFileBackend(filePath, fileOpts...)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, opts...)
}

// Path returns the token file location.
func (f *FileBackend) Path() string {
	return f.filePath
}

// Load reads all records. A missing file yields an empty set; a file with
// permissions other than 0600 is rejected.
func (f *FileBackend) Load(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := f.fs.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []*Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := afero.ReadFile(f.fs, f.filePath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []*Record{}, nil
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", f.filePath, err)
	}
	if doc.Records == nil {
		doc.Records = []*Record{}
	}
	return doc.Records, nil
}

// Save atomically writes the records and sets 0600 permissions.
func (f *FileBackend) Save(ctx context.Context, records []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if records == nil {
		records = []*Record{}
	}
	data, err := json.MarshalIndent(fileFormat{Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling token file: %w", err)
	}

	// Create temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := afero.TempFile(f.fs, dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = f.fs.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := f.fs.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// 0600 = rw-------
	return f.fs.Chmod(f.filePath, 0600)
}
