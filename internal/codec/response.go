package codec

import (
	"context"
	"fmt"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// dictStore is the subset of *store.Store this package needs, so tests can
// supply a fake.
type dictStore interface {
	LatestCompressionDict(ctx context.Context, continuation string) (*types.CompressionDict, error)
	GetCompressionDict(ctx context.Context, id int64) (*types.CompressionDict, error)
	InsertCompressionDict(ctx context.Context, continuation string, data []byte, sampleCount int) (*types.CompressionDict, error)
	SampleResponsesByContinuation(ctx context.Context, continuation string, limit int) ([]*types.Response, error)
	AllResponsesByContinuation(ctx context.Context, continuation string) ([]*types.Response, error)
	UpdateResponseCompression(ctx context.Context, responseID int64, compressed []byte, sizeCompressed int, dictID *int64) error
}

var _ dictStore = (*store.Store)(nil)

// CompressResponse consults the store for the latest trained dictionary for
// continuation; if none exists, content is compressed dictionary-less and
// the returned dictID is nil.
func (c *Codec) CompressResponse(ctx context.Context, s dictStore, content []byte, continuation string, level int) (compressed []byte, dictID *int64, err error) {
	dict, err := s.LatestCompressionDict(ctx, continuation)
	if err != nil {
		if err != types.ErrNotFound {
			return nil, nil, fmt.Errorf("codec: loading latest dict for %s: %w", continuation, err)
		}
		compressed, err = c.Compress(content, level, nil, nil)
		return compressed, nil, err
	}
	compressed, err = c.Compress(content, level, &dict.ID, dict.DictionaryData)
	if err != nil {
		return nil, nil, err
	}
	return compressed, &dict.ID, nil
}

// DecompressResponse looks up the exact dictionary used (if any) and
// reverses CompressResponse.
func (c *Codec) DecompressResponse(ctx context.Context, s dictStore, compressed []byte, dictID *int64) ([]byte, error) {
	if dictID == nil {
		return c.Decompress(compressed, nil, nil)
	}
	dict, err := s.GetCompressionDict(ctx, *dictID)
	if err != nil {
		return nil, fmt.Errorf("codec: loading dict(%d): %w", *dictID, err)
	}
	return c.Decompress(compressed, dictID, dict.DictionaryData)
}

// Train samples up to sampleLimit responses for continuation, decompresses
// them, trains a new dictionary, and stores it as the next version. Fails
// if no responses exist or all samples fail to decompress.
func (c *Codec) Train(ctx context.Context, s dictStore, continuation string, sampleLimit, dictSize int) (*types.CompressionDict, error) {
	responses, err := s.SampleResponsesByContinuation(ctx, continuation, sampleLimit)
	if err != nil {
		return nil, fmt.Errorf("codec: sampling responses for training: %w", err)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("codec: train(%s): no responses to sample", continuation)
	}

	var samples [][]byte
	for _, resp := range responses {
		raw, err := c.DecompressResponse(ctx, s, resp.ContentCompressed, resp.CompressionDictID)
		if err != nil {
			continue
		}
		samples = append(samples, raw)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("codec: train(%s): all %d samples failed to decompress", continuation, len(responses))
	}

	dictBytes := trainDictionary(samples, dictSize)

	dict, err := s.InsertCompressionDict(ctx, continuation, dictBytes, len(samples))
	if err != nil {
		return nil, fmt.Errorf("codec: persisting trained dictionary for %s: %w", continuation, err)
	}
	return dict, nil
}

// RecompressReport is the outcome of a bulk recompression pass.
type RecompressReport struct {
	Count            int
	OriginalBytes    int64
	CompressedBytes  int64
}

// Recompress decompresses every response for continuation with its recorded
// dictionary, re-compresses at level against targetDictID (nil = no
// dictionary), and updates each row in place.
func (c *Codec) Recompress(ctx context.Context, s dictStore, continuation string, level int, targetDictID *int64) (*RecompressReport, error) {
	responses, err := s.AllResponsesByContinuation(ctx, continuation)
	if err != nil {
		return nil, fmt.Errorf("codec: loading responses for recompression: %w", err)
	}

	var targetDict []byte
	if targetDictID != nil {
		d, err := s.GetCompressionDict(ctx, *targetDictID)
		if err != nil {
			return nil, fmt.Errorf("codec: loading target dict(%d): %w", *targetDictID, err)
		}
		targetDict = d.DictionaryData
	}

	report := &RecompressReport{}
	for _, resp := range responses {
		raw, err := c.DecompressResponse(ctx, s, resp.ContentCompressed, resp.CompressionDictID)
		if err != nil {
			continue
		}
		recompressed, err := c.Compress(raw, level, targetDictID, targetDict)
		if err != nil {
			continue
		}
		if err := s.UpdateResponseCompression(ctx, resp.ID, recompressed, len(recompressed), targetDictID); err != nil {
			continue
		}
		report.Count++
		report.OriginalBytes += int64(len(raw))
		report.CompressedBytes += int64(len(recompressed))
	}
	return report, nil
}
