package onpair

import (
	"errors"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// ErrInvalidLayout indicates the end-offset array handed to CompressBytes is
// not a valid prefix sum over the data buffer.
var ErrInvalidLayout = errors.New("onpair: invalid end-offset layout")

func validateEnds(data []byte, ends []int) error {
	if len(ends) == 0 || ends[0] != 0 {
		return fmt.Errorf("%w: ends must start with 0", ErrInvalidLayout)
	}
	for i := 1; i < len(ends); i++ {
		if ends[i] < ends[i-1] {
			return fmt.Errorf("%w: ends not monotone at %d", ErrInvalidLayout, i)
		}
	}
	if ends[len(ends)-1] > len(data) {
		return fmt.Errorf("%w: last end %d exceeds data length %d", ErrInvalidLayout, ends[len(ends)-1], len(data))
	}
	return nil
}

// visitOrder produces the shuffled training order, reduced to a sample when
// the corpus exceeds the configured byte budget. Returns the visit indices
// and the byte count they cover, which sizes the promotion threshold.
func visitOrder(cfg Config, data []byte, ends []int) ([]int, int) {
	numStrings := len(ends) - 1
	shuffled := make([]int, numStrings)
	for i := range shuffled {
		shuffled[i] = i
	}
	newMT19937(cfg.Seed).shuffle(shuffled)

	totalBytes := ends[numStrings]
	budget := resolveSampleBytes(cfg)
	if totalBytes <= budget {
		return shuffled, totalBytes
	}
	if cfg.Stratified {
		return stratifiedSampleIndices(data, ends, shuffled, budget, resolveMaxClusters(cfg))
	}
	return plainSampleIndices(ends, shuffled, budget)
}

// reserveCopySlack guarantees the dictionary's backing array extends at
// least slack bytes past its length, so the fixed-width block copy of the
// final token stays inside the allocation.
func reserveCopySlack(dict []byte, slack int) []byte {
	n := len(dict)
	return append(dict, make([]byte, slack)...)[:n]
}

// pairKey packs an adjacent token pair into one counter key.
func pairKey(prev, next uint16) uint32 {
	return uint32(prev)<<16 | uint32(next)
}

func logTraining(cfg Config, name string, tokens, dictBytes, sampledBytes, threshold int, took time.Duration) {
	if cfg.Logger == nil {
		return
	}
	cfg.Logger.Log(cfg.LogLvl, fmt.Sprintf("[%s] trained dictionary", name),
		"tokens", tokens,
		"dict", datasize.ByteSize(dictBytes).HumanReadable(),
		"sampled", datasize.ByteSize(sampledBytes).HumanReadable(),
		"threshold", threshold,
		"took", took,
	)
}
