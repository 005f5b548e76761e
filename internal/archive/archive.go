// Package archive persists archival downloads (PDFs, images, and other
// binary payloads a step marks as archival rather than parsed) to content-
// hashed files on disk, and records an ArchivedFile row pointing at the
// result. Grounded on the teacher's internal/storage/file.go file-writing
// idiom (os.MkdirAll + os.Create under a configured output directory),
// generalized from item-export formats to raw content-addressed blobs.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// Store is the subset of *store.Store the archive writer needs.
type Store interface {
	StoreArchivedFile(ctx context.Context, f *types.ArchivedFile) (int64, error)
	GetArchivedFile(ctx context.Context, requestID int64) (*types.ArchivedFile, error)
}

var _ Store = (*store.Store)(nil)

// Writer persists archival content under a root directory, deduplicating
// by SHA-256 content hash: two requests downloading identical bytes share
// one file on disk.
type Writer struct {
	store   Store
	rootDir string
}

// NewWriter builds a Writer rooted at rootDir, creating it if absent.
func NewWriter(s Store, rootDir string) (*Writer, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: creating root dir %s: %w", rootDir, err)
	}
	return &Writer{store: s, rootDir: rootDir}, nil
}

// Save writes content to a content-hashed path under the writer's root
// (sharded two levels deep by the first four hex digits of the hash, to
// keep any one directory from accumulating too many entries) and records
// an ArchivedFile row for requestID. If a file with the same hash already
// exists, the write is skipped and the existing path is reused.
func (w *Writer) Save(ctx context.Context, requestID int64, originalURL, expectedType string, content []byte) (*types.ArchivedFile, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	relPath := filepath.Join(hash[0:2], hash[2:4], hash)
	fullPath := filepath.Join(w.rootDir, relPath)

	if _, err := os.Stat(fullPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: stat %s: %w", fullPath, err)
		}
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return nil, fmt.Errorf("archive: creating directory for %s: %w", fullPath, err)
		}
		if err := os.WriteFile(fullPath, content, 0o644); err != nil {
			return nil, fmt.Errorf("archive: writing %s: %w", fullPath, err)
		}
	}

	af := &types.ArchivedFile{
		RequestID:    requestID,
		FilePath:     relPath,
		OriginalURL:  originalURL,
		ExpectedType: expectedType,
		FileSize:     int64(len(content)),
		ContentHash:  hash,
	}
	id, err := w.store.StoreArchivedFile(ctx, af)
	if err != nil {
		return nil, fmt.Errorf("archive: recording archived file for request %d: %w", requestID, err)
	}
	af.ID = id
	return af, nil
}

// FullPath resolves an ArchivedFile's stored relative path to an absolute
// path under the writer's root, for handing to a step as local_filepath.
func (w *Writer) FullPath(af *types.ArchivedFile) string {
	return filepath.Join(w.rootDir, af.FilePath)
}

// Open returns the archived content for requestID, reading it back from
// disk by the path recorded in its ArchivedFile row.
func (w *Writer) Open(ctx context.Context, requestID int64) ([]byte, *types.ArchivedFile, error) {
	af, err := w.store.GetArchivedFile(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: loading archived file for request %d: %w", requestID, err)
	}
	content, err := os.ReadFile(filepath.Join(w.rootDir, af.FilePath))
	if err != nil {
		return nil, nil, fmt.Errorf("archive: reading %s: %w", af.FilePath, err)
	}
	return content, af, nil
}
