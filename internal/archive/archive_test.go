package archive

import (
	"context"
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

type fakeStore struct {
	files  map[int64]*types.ArchivedFile
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[int64]*types.ArchivedFile)}
}

func (f *fakeStore) StoreArchivedFile(ctx context.Context, af *types.ArchivedFile) (int64, error) {
	f.nextID++
	cp := *af
	cp.ID = f.nextID
	f.files[af.RequestID] = &cp
	return f.nextID, nil
}

func (f *fakeStore) GetArchivedFile(ctx context.Context, requestID int64) (*types.ArchivedFile, error) {
	af, ok := f.files[requestID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return af, nil
}

func TestSaveThenOpenRoundTrips(t *testing.T) {
	fs := newFakeStore()
	w, err := NewWriter(fs, t.TempDir())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ctx := context.Background()

	af, err := w.Save(ctx, 1, "https://example.com/doc.pdf", "pdf", []byte("%PDF-1.4 fake content"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if af.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}

	content, got, err := w.Open(ctx, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(content) != "%PDF-1.4 fake content" {
		t.Errorf("unexpected content: %q", content)
	}
	if got.ContentHash != af.ContentHash {
		t.Errorf("hash mismatch: %s vs %s", got.ContentHash, af.ContentHash)
	}
}

func TestSaveDeduplicatesIdenticalContent(t *testing.T) {
	fs := newFakeStore()
	w, err := NewWriter(fs, t.TempDir())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ctx := context.Background()

	af1, err := w.Save(ctx, 1, "https://example.com/a.pdf", "pdf", []byte("same bytes"))
	if err != nil {
		t.Fatalf("save 1: %v", err)
	}
	af2, err := w.Save(ctx, 2, "https://example.com/b.pdf", "pdf", []byte("same bytes"))
	if err != nil {
		t.Fatalf("save 2: %v", err)
	}
	if af1.FilePath != af2.FilePath {
		t.Errorf("expected shared file path for identical content, got %s vs %s", af1.FilePath, af2.FilePath)
	}
}
