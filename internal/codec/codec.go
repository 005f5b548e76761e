// Package codec implements the driver's content codec: zstd compression,
// per-continuation trained dictionaries, and bulk re-compression, per spec
// §4.2. Dictionary training has no off-the-shelf COVER/ZDICT implementation
// in the example pack, so this package carries a small hand-rolled trainer
// (see dict_trainer.go) — everything else defers to klauspost/compress/zstd.
package codec

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses response bodies, optionally against a
// trained per-continuation dictionary. It caches decoded dictionaries in an
// LRU so repeated decompression of the same continuation's responses does
// not re-parse dictionary bytes every call.
type Codec struct {
	mu           sync.Mutex
	plainEncoder *zstd.Encoder
	plainDecoder *zstd.Decoder

	dictCache *lru.Cache // dictID (int64) -> *dictCodecs
}

type dictCodecs struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Codec whose decoded-dictionary cache holds up to
// dictCacheSize entries.
func New(dictCacheSize int) (*Codec, error) {
	if dictCacheSize <= 0 {
		dictCacheSize = 32
	}
	cache, err := lru.New(dictCacheSize)
	if err != nil {
		return nil, fmt.Errorf("codec: building dictionary cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("codec: building default encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("codec: building default decoder: %w", err)
	}

	return &Codec{plainEncoder: enc, plainDecoder: dec, dictCache: cache}, nil
}

// Compress compresses data at the given zstd level, optionally against a
// dictionary. dictID is an opaque cache key (the CompressionDict's store
// id); dict is the raw trained dictionary bytes to use when dictID is not
// already cached.
func (c *Codec) Compress(data []byte, level int, dictID *int64, dict []byte) ([]byte, error) {
	if dictID == nil {
		enc, err := c.levelEncoder(level)
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	}
	codecs, err := c.dictCodecsFor(*dictID, dict)
	if err != nil {
		return nil, err
	}
	return codecs.encoder.EncodeAll(data, nil), nil
}

// Decompress reverses Compress. dictID nil means the content was compressed
// without a dictionary.
func (c *Codec) Decompress(compressed []byte, dictID *int64, dict []byte) ([]byte, error) {
	if dictID == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.plainDecoder.DecodeAll(compressed, nil)
	}
	codecs, err := c.dictCodecsFor(*dictID, dict)
	if err != nil {
		return nil, err
	}
	return codecs.decoder.DecodeAll(compressed, nil)
}

func (c *Codec) dictCodecsFor(dictID int64, dict []byte) (*dictCodecs, error) {
	if cached, ok := c.dictCache.Get(dictID); ok {
		return cached.(*dictCodecs), nil
	}
	if len(dict) == 0 {
		return nil, fmt.Errorf("codec: dictionary %d not cached and no raw bytes supplied", dictID)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderDictRaw(uint32(dictID), dict), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("codec: building dictionary encoder(%d): %w", dictID, err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDictRaw(uint32(dictID), dict), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("codec: building dictionary decoder(%d): %w", dictID, err)
	}

	codecs := &dictCodecs{encoder: enc, decoder: dec}
	c.dictCache.Add(dictID, codecs)
	return codecs, nil
}

func (c *Codec) levelEncoder(level int) (*zstd.Encoder, error) {
	// The default encoder is built at the package's default speed; any
	// other requested level gets its own throwaway encoder. This keeps the
	// common (dictionary-less, default level) path allocation free beyond
	// the encode itself.
	if level <= 0 || level == 3 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.plainEncoder, nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)), zstd.WithEncoderConcurrency(1))
}

// zstdLevel maps the 1-22 zstd CLI-style level used throughout Config and
// the store into the coarser speed tiers klauspost/compress/zstd exposes.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
