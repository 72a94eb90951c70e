package onpair

import (
	"time"
	"unsafe"

	"github.com/onpair-dev/onpair/lpm"
)

// fastCopySize is the block width of the unbounded variant's decompression
// copy. Tokens up to this length cost a single fixed-width store; longer
// tokens pay one extra variable copy for the tail.
const fastCopySize = 8

// OnPair compresses collections of short strings into fixed-width 16-bit
// token streams with per-string random-access decompression. This is the
// unbounded variant: dictionary tokens may grow to arbitrary length.
//
// An OnPair value goes through two phases: mutable while one of the
// Compress methods runs, immutable afterwards. Decompression methods on a
// compressed instance are safe to call from multiple goroutines as long as
// each call uses its own output buffer.
type OnPair struct {
	cfg Config

	compressedData   []uint16 // token IDs for all strings back to back
	stringBoundaries []int    // per-string end positions in compressedData
	dictionary       []byte   // token literals in ID order
	tokenBoundaries  []uint32 // per-token end positions in dictionary
}

// New creates an empty codec.
func New(opts ...Option) *OnPair {
	return &OnPair{cfg: makeConfig(opts)}
}

// WithCapacity creates an empty codec with reservations sized for a corpus
// of numStrings strings and totalBytes bytes.
func WithCapacity(numStrings, totalBytes int, opts ...Option) *OnPair {
	return &OnPair{
		cfg:              makeConfig(opts),
		compressedData:   make([]uint16, 0, totalBytes/2),
		stringBoundaries: make([]int, 0, numStrings+1),
		dictionary:       make([]byte, 0, 1024*1024),
		tokenBoundaries:  make([]uint32, 0, maxTokenID+2),
	}
}

// CompressStrings trains a dictionary on the given strings and compresses
// them. Convenience wrapper around FlattenStrings + CompressBytes.
func (op *OnPair) CompressStrings(strings []string) error {
	data, ends := FlattenStrings(strings)
	return op.CompressBytes(data, ends)
}

// CompressBytes trains a dictionary and compresses pre-flattened data.
// ends must be a prefix-sum array starting with 0: strings of lengths
// [3, 2, 4] are described by ends = [0, 3, 5, 9].
func (op *OnPair) CompressBytes(data []byte, ends []int) error {
	if err := validateEnds(data, ends); err != nil {
		return err
	}
	matcher := op.trainDictionary(data, ends)
	op.parseData(data, ends, matcher)
	return nil
}

// trainDictionary is phase 1: dictionary discovery.
//
// Starts from the 256 single-byte tokens and walks a shuffled sample of the
// corpus through the evolving matcher, counting adjacent token pairs and
// promoting a pair to a new token once its count reaches the threshold.
func (op *OnPair) trainDictionary(data []byte, ends []int) *lpm.LongestPrefixMatcher {
	start := time.Now()
	op.tokenBoundaries = append(op.tokenBoundaries, 0)

	matcher := lpm.NewLongestPrefixMatcher()
	for i := 0; i < singleByteTokens; i++ {
		b := byte(i)
		matcher.Insert([]byte{b}, uint16(i))
		op.dictionary = append(op.dictionary, b)
		op.tokenBoundaries = append(op.tokenBoundaries, uint32(len(op.dictionary)))
	}

	visit, sampledBytes := visitOrder(op.cfg, data, ends)
	threshold := resolveThreshold(op.cfg, sampledBytes)
	limitTokenID := resolveTokenLimit(op.cfg)

	frequency := make(map[uint32]int, 4096)
	nextTokenID := uint16(singleByteTokens)
	fullDictionary := false

	for _, index := range visit {
		if fullDictionary {
			break
		}
		start, end := ends[index], ends[index+1]
		if start == end {
			continue
		}

		// Primer match: the first token of the string has no left
		// neighbour, so it only seeds prev.
		prevTokenID, prevLength, ok := matcher.FindLongestMatch(data[start:end])
		if !ok {
			continue
		}
		pos := start + prevLength

		for pos < end {
			matchTokenID, matchLength, ok := matcher.FindLongestMatch(data[pos:end])
			if !ok {
				break
			}

			pair := pairKey(prevTokenID, matchTokenID)
			frequency[pair]++

			promoted := false
			if frequency[pair] >= threshold {
				merged := data[pos-prevLength : pos+matchLength]
				promoted = matcher.Insert(merged, nextTokenID)
				if promoted {
					op.dictionary = append(op.dictionary, merged...)
					op.tokenBoundaries = append(op.tokenBoundaries, uint32(len(op.dictionary)))
					delete(frequency, pair)

					prevTokenID = nextTokenID
					prevLength += matchLength

					if nextTokenID == limitTokenID {
						fullDictionary = true
						break
					}
					nextTokenID++
				}
			}

			if !promoted {
				prevTokenID = matchTokenID
				prevLength = matchLength
			}
			pos += matchLength
		}
	}

	op.dictionary = reserveCopySlack(op.dictionary, fastCopySize-1)
	logTraining(op.cfg, "onpair", len(op.tokenBoundaries)-1, len(op.dictionary),
		sampledBytes, threshold, time.Since(start))
	return matcher
}

// parseData is phase 2: greedy parsing of every string through the final
// matcher. Single-byte tokens guarantee progress, so each string parses
// left to right without backtracking.
func (op *OnPair) parseData(data []byte, ends []int, matcher *lpm.LongestPrefixMatcher) {
	op.stringBoundaries = append(op.stringBoundaries, 0)

	for i := 0; i < len(ends)-1; i++ {
		start, end := ends[i], ends[i+1]
		pos := start
		for pos < end {
			tokenID, length, ok := matcher.FindLongestMatch(data[pos:end])
			if !ok {
				break
			}
			op.compressedData = append(op.compressedData, tokenID)
			pos += length
		}
		op.stringBoundaries = append(op.stringBoundaries, len(op.compressedData))
	}
}

// DecompressString writes string index into buffer and returns the byte
// count written.
//
// The buffer must extend at least 7 bytes past the decompressed length
// (see DecompressedLen): every token is written with one 8-byte block store,
// and the tail of the final store may land past the true end. The next
// token's store overwrites any over-write within the string.
func (op *OnPair) DecompressString(index int, buffer []byte) int {
	if len(op.dictionary) == 0 {
		return 0
	}
	itemStart := op.stringBoundaries[index]
	itemEnd := op.stringBoundaries[index+1]
	return op.decompressTokens(op.compressedData[itemStart:itemEnd], buffer)
}

// DecompressAll writes the concatenation of every string in index order and
// returns the total byte count. The same 7-byte slack rule applies.
func (op *OnPair) DecompressAll(buffer []byte) int {
	if len(op.dictionary) == 0 {
		return 0
	}
	return op.decompressTokens(op.compressedData, buffer)
}

func (op *OnPair) decompressTokens(tokens []uint16, buffer []byte) int {
	dictPtr := unsafe.Pointer(&op.dictionary[0])
	boundsPtr := unsafe.Pointer(&op.tokenBoundaries[0])
	size := 0

	for _, tokenID := range tokens {
		dictStart := *(*uint32)(unsafe.Pointer(uintptr(boundsPtr) + uintptr(tokenID)*4))
		dictEnd := *(*uint32)(unsafe.Pointer(uintptr(boundsPtr) + (uintptr(tokenID)+1)*4))
		length := int(dictEnd - dictStart)

		src := unsafe.Pointer(uintptr(dictPtr) + uintptr(dictStart))
		dst := unsafe.Pointer(&buffer[size])
		*(*[fastCopySize]byte)(dst) = *(*[fastCopySize]byte)(src)

		if length > fastCopySize {
			rest := op.dictionary[int(dictStart)+fastCopySize : dictEnd]
			copy(buffer[size+fastCopySize:], rest)
		}
		size += length
	}
	return size
}

// DecompressedLen returns the decompressed byte length of string index
// without decompressing it.
func (op *OnPair) DecompressedLen(index int) int {
	itemStart := op.stringBoundaries[index]
	itemEnd := op.stringBoundaries[index+1]
	length := 0
	for _, tokenID := range op.compressedData[itemStart:itemEnd] {
		length += int(op.tokenBoundaries[tokenID+1] - op.tokenBoundaries[tokenID])
	}
	return length
}

// TotalLen returns the decompressed byte length of the whole corpus.
func (op *OnPair) TotalLen() int {
	length := 0
	for _, tokenID := range op.compressedData {
		length += int(op.tokenBoundaries[tokenID+1] - op.tokenBoundaries[tokenID])
	}
	return length
}

// NumStrings returns how many strings the codec holds.
func (op *OnPair) NumStrings() int {
	if len(op.stringBoundaries) == 0 {
		return 0
	}
	return len(op.stringBoundaries) - 1
}

// SpaceUsed returns the total byte footprint of the compressed
// representation: token stream, dictionary blob, token offsets and string
// boundaries.
func (op *OnPair) SpaceUsed() int {
	return len(op.compressedData)*2 +
		len(op.dictionary) +
		len(op.tokenBoundaries)*4 +
		len(op.stringBoundaries)*8
}

// ShrinkToFit reallocates the internal arrays to their exact lengths,
// dropping training-time overallocation.
func (op *OnPair) ShrinkToFit() {
	op.compressedData = append([]uint16(nil), op.compressedData...)
	op.stringBoundaries = append([]int(nil), op.stringBoundaries...)
	op.dictionary = reserveCopySlack(append([]byte(nil), op.dictionary...), fastCopySize-1)
	op.tokenBoundaries = append([]uint32(nil), op.tokenBoundaries...)
}

// Dictionary exposes the token literal blob for inspection.
func (op *OnPair) Dictionary() []byte { return op.dictionary }

// TokenBoundaries exposes the per-token end offsets for inspection.
func (op *OnPair) TokenBoundaries() []uint32 { return op.tokenBoundaries }

// CompressedData exposes the token stream for inspection.
func (op *OnPair) CompressedData() []uint16 { return op.compressedData }

// StringBoundaries exposes the per-string token offsets for inspection.
func (op *OnPair) StringBoundaries() []int { return op.stringBoundaries }
