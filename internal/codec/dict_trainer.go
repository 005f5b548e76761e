package codec

import "sort"

// trainDictionary builds a zstd raw-content dictionary from samples by
// picking the most frequently recurring byte n-grams across the corpus and
// concatenating them up to dictSize bytes.
//
// klauspost/compress/zstd does not expose a COVER/ZDICT trainer (only
// dictionary *use*, not dictionary *training*), and no other library in the
// example pack provides one either. This is therefore a deliberately
// simplified stand-in: real ZDICT training solves a segment-selection
// optimization over suffix structures; this just counts fixed-width n-gram
// frequency and greedily keeps the densest ones. It is enough to produce a
// valid "raw content" zstd dictionary (any byte string is one), and in
// practice recovers much of the benefit for templated HTML/JSON responses
// where the same boilerplate recurs verbatim across samples.
const ngramSize = 16

func trainDictionary(samples [][]byte, dictSize int) []byte {
	if dictSize <= 0 {
		dictSize = 64 * 1024
	}

	counts := map[string]int{}
	order := []string{}
	for _, sample := range samples {
		if len(sample) < ngramSize {
			continue
		}
		seen := map[string]bool{}
		for i := 0; i+ngramSize <= len(sample); i += ngramSize / 2 {
			gram := string(sample[i : i+ngramSize])
			if !seen[gram] {
				seen[gram] = true
				if _, ok := counts[gram]; !ok {
					order = append(order, gram)
				}
				counts[gram]++
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	dict := make([]byte, 0, dictSize)
	for _, gram := range order {
		if counts[gram] < 2 {
			break // not recurring across samples, not worth keeping
		}
		if len(dict)+len(gram) > dictSize {
			break
		}
		dict = append(dict, gram...)
	}

	if len(dict) == 0 && len(samples) > 0 {
		// Degenerate corpus (no repeated n-grams): fall back to a prefix of
		// the first sample so training still produces a usable dictionary.
		first := samples[0]
		if len(first) > dictSize {
			first = first[:dictSize]
		}
		dict = append(dict, first...)
	}

	return dict
}
