package onpair

import (
	"time"
	"unsafe"

	"github.com/onpair-dev/onpair/lpm"
)

// maxTokenLen16 is the hard cap on dictionary token length in the bounded
// variant. Every token fits in one 16-byte block, so decompression is a
// single fixed-width store per token with no length branch.
const maxTokenLen16 = 16

// OnPair16 is the bounded codec variant: dictionary tokens never exceed 16
// bytes. Training refuses to merge a pair whose combined length would break
// the cap, and decompression exploits the cap with one unconditional 16-byte
// block store per token.
//
// The phase rules of OnPair apply: mutable during a Compress call, immutable
// and goroutine-safe for decompression afterwards.
type OnPair16 struct {
	cfg Config

	compressedData   []uint16
	stringBoundaries []int
	dictionary       []byte
	tokenBoundaries  []uint32
}

// New16 creates an empty bounded codec.
func New16(opts ...Option) *OnPair16 {
	return &OnPair16{cfg: makeConfig(opts)}
}

// WithCapacity16 creates an empty bounded codec with reservations sized for
// a corpus of numStrings strings and totalBytes bytes.
func WithCapacity16(numStrings, totalBytes int, opts ...Option) *OnPair16 {
	return &OnPair16{
		cfg:              makeConfig(opts),
		compressedData:   make([]uint16, 0, totalBytes/2),
		stringBoundaries: make([]int, 0, numStrings+1),
		dictionary:       make([]byte, 0, (maxTokenID+1)*maxTokenLen16/4),
		tokenBoundaries:  make([]uint32, 0, maxTokenID+2),
	}
}

// CompressStrings trains a dictionary on the given strings and compresses
// them. Convenience wrapper around FlattenStrings + CompressBytes.
func (op *OnPair16) CompressStrings(strings []string) error {
	data, ends := FlattenStrings(strings)
	return op.CompressBytes(data, ends)
}

// CompressBytes trains a dictionary and compresses pre-flattened data. ends
// follows the same prefix-sum layout as OnPair.CompressBytes.
func (op *OnPair16) CompressBytes(data []byte, ends []int) error {
	if err := validateEnds(data, ends); err != nil {
		return err
	}
	matcher := op.trainDictionary(data, ends)
	op.parseData(data, ends, matcher.Finalize())
	return nil
}

// trainDictionary mirrors the unbounded trainer with one extra rule: a pair
// whose merged length would exceed 16 bytes is never counted. The pair is
// simply stepped over, which keeps the counter map free of unmergeable
// entries.
func (op *OnPair16) trainDictionary(data []byte, ends []int) *lpm.LongestPrefixMatcher16 {
	start := time.Now()
	op.tokenBoundaries = append(op.tokenBoundaries, 0)

	matcher := lpm.NewLongestPrefixMatcher16()
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

			promoted := false
			if prevLength+matchLength <= maxTokenLen16 {
				pair := pairKey(prevTokenID, matchTokenID)
				frequency[pair]++

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
			}

			if !promoted {
				prevTokenID = matchTokenID
				prevLength = matchLength
			}
			pos += matchLength
		}
	}

	op.dictionary = reserveCopySlack(op.dictionary, maxTokenLen16-1)
	logTraining(op.cfg, "onpair16", len(op.tokenBoundaries)-1, len(op.dictionary),
		sampledBytes, threshold, time.Since(start))
	return matcher
}

// parseData greedily parses every string through the finalized matcher.
func (op *OnPair16) parseData(data []byte, ends []int, matcher *lpm.StaticLongestPrefixMatcher16) {
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
// The buffer must extend at least 15 bytes past the decompressed length
// (see DecompressedLen): every token is written with one unconditional
// 16-byte block store, and the tail of the final store may land past the
// true end.
func (op *OnPair16) DecompressString(index int, buffer []byte) int {
	if len(op.dictionary) == 0 {
		return 0
	}
	itemStart := op.stringBoundaries[index]
	itemEnd := op.stringBoundaries[index+1]
	return op.decompressTokens(op.compressedData[itemStart:itemEnd], buffer)
}

// DecompressAll writes the concatenation of every string in index order and
// returns the total byte count. The same 15-byte slack rule applies.
func (op *OnPair16) DecompressAll(buffer []byte) int {
	if len(op.dictionary) == 0 {
		return 0
	}
	return op.decompressTokens(op.compressedData, buffer)
}

func (op *OnPair16) decompressTokens(tokens []uint16, buffer []byte) int {
	dictPtr := unsafe.Pointer(&op.dictionary[0])
	boundsPtr := unsafe.Pointer(&op.tokenBoundaries[0])
	size := 0

	for _, tokenID := range tokens {
		dictStart := *(*uint32)(unsafe.Pointer(uintptr(boundsPtr) + uintptr(tokenID)*4))
		dictEnd := *(*uint32)(unsafe.Pointer(uintptr(boundsPtr) + (uintptr(tokenID)+1)*4))

		src := unsafe.Pointer(uintptr(dictPtr) + uintptr(dictStart))
		dst := unsafe.Pointer(&buffer[size])
		*(*[maxTokenLen16]byte)(dst) = *(*[maxTokenLen16]byte)(src)

		size += int(dictEnd - dictStart)
	}
	return size
}

// DecompressedLen returns the decompressed byte length of string index
// without decompressing it.
func (op *OnPair16) DecompressedLen(index int) int {
	itemStart := op.stringBoundaries[index]
	itemEnd := op.stringBoundaries[index+1]
	length := 0
	for _, tokenID := range op.compressedData[itemStart:itemEnd] {
		length += int(op.tokenBoundaries[tokenID+1] - op.tokenBoundaries[tokenID])
	}
	return length
}

// TotalLen returns the decompressed byte length of the whole corpus.
func (op *OnPair16) TotalLen() int {
	length := 0
	for _, tokenID := range op.compressedData {
		length += int(op.tokenBoundaries[tokenID+1] - op.tokenBoundaries[tokenID])
	}
	return length
}

// NumStrings returns how many strings the codec holds.
func (op *OnPair16) NumStrings() int {
	if len(op.stringBoundaries) == 0 {
		return 0
	}
	return len(op.stringBoundaries) - 1
}

// SpaceUsed returns the total byte footprint of the compressed
// representation.
func (op *OnPair16) SpaceUsed() int {
	return len(op.compressedData)*2 +
		len(op.dictionary) +
		len(op.tokenBoundaries)*4 +
		len(op.stringBoundaries)*8
}

// ShrinkToFit reallocates the internal arrays to their exact lengths,
// dropping training-time overallocation.
func (op *OnPair16) ShrinkToFit() {
	op.compressedData = append([]uint16(nil), op.compressedData...)
	op.stringBoundaries = append([]int(nil), op.stringBoundaries...)
	op.dictionary = reserveCopySlack(append([]byte(nil), op.dictionary...), maxTokenLen16-1)
	op.tokenBoundaries = append([]uint32(nil), op.tokenBoundaries...)
}

// Dictionary exposes the token literal blob for inspection.
func (op *OnPair16) Dictionary() []byte { return op.dictionary }

// TokenBoundaries exposes the per-token end offsets for inspection.
func (op *OnPair16) TokenBoundaries() []uint32 { return op.tokenBoundaries }

// CompressedData exposes the token stream for inspection.
func (op *OnPair16) CompressedData() []uint16 { return op.compressedData }

// StringBoundaries exposes the per-string token offsets for inspection.
func (op *OnPair16) StringBoundaries() []int { return op.stringBoundaries }
