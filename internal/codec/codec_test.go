package codec

import (
	"bytes"
	"context"
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	original := []byte("the quick brown fox jumps over the lazy dog, repeatedly, over and over")
	compressed, err := c.Compress(original, 3, nil, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) == 0 {
		t.Fatalf("expected non-empty compressed output")
	}

	got, err := c.Decompress(compressed, nil, nil)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("round trip mismatch: got %q, want %q", got, original)
	}
}

func TestCompressWithDictionaryRoundTrip(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	dict := trainDictionary([][]byte{
		[]byte("<html><body><div class=\"item\">one</div></html>"),
		[]byte("<html><body><div class=\"item\">two</div></html>"),
	}, 1024)
	dictID := int64(1)

	original := []byte("<html><body><div class=\"item\">three</div></html>")
	compressed, err := c.Compress(original, 3, &dictID, dict)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	got, err := c.Decompress(compressed, &dictID, dict)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("round trip mismatch: got %q, want %q", got, original)
	}
}

func TestDictCodecsAreCachedAfterFirstUse(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	dict := trainDictionary([][]byte{bytes.Repeat([]byte("abcdefgh"), 20)}, 256)
	dictID := int64(7)

	if _, err := c.Compress([]byte("abcdefgh"), 3, &dictID, dict); err != nil {
		t.Fatalf("first compress: %v", err)
	}
	// Second call omits the raw dictionary bytes; it must succeed from cache.
	if _, err := c.Compress([]byte("abcdefgh"), 3, &dictID, nil); err != nil {
		t.Errorf("expected cached dictionary codec to be reused, got error: %v", err)
	}
}

type fakeDictStore struct {
	dicts     map[string]*types.CompressionDict
	byID      map[int64]*types.CompressionDict
	responses map[string][]*types.Response
	nextID    int64
}

func newFakeDictStore() *fakeDictStore {
	return &fakeDictStore{
		dicts:     map[string]*types.CompressionDict{},
		byID:      map[int64]*types.CompressionDict{},
		responses: map[string][]*types.Response{},
	}
}

func (f *fakeDictStore) LatestCompressionDict(ctx context.Context, continuation string) (*types.CompressionDict, error) {
	d, ok := f.dicts[continuation]
	if !ok {
		return nil, types.ErrNotFound
	}
	return d, nil
}

func (f *fakeDictStore) GetCompressionDict(ctx context.Context, id int64) (*types.CompressionDict, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return d, nil
}

func (f *fakeDictStore) InsertCompressionDict(ctx context.Context, continuation string, data []byte, sampleCount int) (*types.CompressionDict, error) {
	f.nextID++
	d := &types.CompressionDict{ID: f.nextID, Continuation: continuation, Version: 1, DictionaryData: data, SampleCount: sampleCount}
	f.dicts[continuation] = d
	f.byID[d.ID] = d
	return d, nil
}

func (f *fakeDictStore) SampleResponsesByContinuation(ctx context.Context, continuation string, limit int) ([]*types.Response, error) {
	return f.responses[continuation], nil
}

func (f *fakeDictStore) AllResponsesByContinuation(ctx context.Context, continuation string) ([]*types.Response, error) {
	return f.responses[continuation], nil
}

func (f *fakeDictStore) UpdateResponseCompression(ctx context.Context, responseID int64, compressed []byte, sizeCompressed int, dictID *int64) error {
	for _, rs := range f.responses {
		for _, r := range rs {
			if r.ID == responseID {
				r.ContentCompressed = compressed
				r.ContentSizeCompressed = sizeCompressed
				r.CompressionDictID = dictID
			}
		}
	}
	return nil
}

func TestCompressResponseFallsBackWithoutDictionary(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	s := newFakeDictStore()

	compressed, dictID, err := c.CompressResponse(context.Background(), s, []byte("hello world"), "parse_home", 3)
	if err != nil {
		t.Fatalf("compress_response: %v", err)
	}
	if dictID != nil {
		t.Errorf("expected nil dict_id when no dictionary trained yet, got %v", *dictID)
	}
	if len(compressed) == 0 {
		t.Fatalf("expected compressed output")
	}
}

func TestTrainFailsOnEmptyCorpus(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	s := newFakeDictStore()

	if _, err := c.Train(context.Background(), s, "parse_home", 100, 4096); err == nil {
		t.Errorf("expected error training on empty corpus")
	}
}
