package lpm

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// maxPatternLen16 is the hard pattern length cap of the bounded variant.
// With at most 16 bytes per pattern, every key fits in two 64-bit words and
// no auxiliary suffix blob is needed.
const maxPatternLen16 = 16

// entry16 is a long pattern of the bounded variant: suffix bytes 8..16
// stored as a masked little-endian word.
type entry16 struct {
	suffix uint64
	length uint8
	id     uint16
}

// LongestPrefixMatcher16 is the training-phase matcher for 16-byte bounded
// patterns. It supports incremental insertion; Finalize converts it into the
// read-only form used while parsing.
type LongestPrefixMatcher16 struct {
	shortLookup map[shortKey]uint16
	buckets     map[uint64][]entry16
}

// NewLongestPrefixMatcher16 creates an empty bounded matcher.
func NewLongestPrefixMatcher16() *LongestPrefixMatcher16 {
	return &LongestPrefixMatcher16{
		shortLookup: make(map[shortKey]uint16),
		buckets:     make(map[uint64][]entry16),
	}
}

// Insert adds a pattern of 1..16 bytes. Returns false when the long-pattern
// bucket for the 8-byte prefix key is full; the matcher is unchanged and the
// caller abandons the merge. A short pattern colliding with an existing key
// leaves the earlier entry in place.
func (m *LongestPrefixMatcher16) Insert(data []byte, id uint16) bool {
	length := len(data)
	if length <= minMatch {
		key := shortKey{prefix: bytesToU64LE(data, length), length: uint8(length)}
		if _, ok := m.shortLookup[key]; !ok {
			m.shortLookup[key] = id
		}
		return true
	}

	prefix := bytesToU64LE(data, minMatch)
	bucket := m.buckets[prefix]
	if len(bucket) >= maxBucketSize {
		return false
	}

	suffixLen := length - minMatch
	bucket = append(bucket, entry16{
		suffix: bytesToU64LE(data[minMatch:], suffixLen),
		length: uint8(suffixLen),
		id:     id,
	})

	// Longest suffix first; equal lengths keep insertion order.
	for i := len(bucket) - 1; i > 0; i-- {
		if bucket[i].length > bucket[i-1].length {
			bucket[i], bucket[i-1] = bucket[i-1], bucket[i]
		} else {
			break
		}
	}
	m.buckets[prefix] = bucket
	return true
}

// FindLongestMatch returns the token ID and length of the longest stored
// pattern that is a prefix of data.
func (m *LongestPrefixMatcher16) FindLongestMatch(data []byte) (uint16, int, bool) {
	if len(data) > minMatch {
		suffixLen := len(data)
		if suffixLen > maxPatternLen16 {
			suffixLen = maxPatternLen16
		}
		suffixLen -= minMatch

		prefix := bytesToU64LE(data, minMatch)
		if bucket, ok := m.buckets[prefix]; ok {
			suffix := bytesToU64LE(data[minMatch:], suffixLen)
			for _, entry := range bucket {
				if isPrefix(suffix, entry.suffix, suffixLen, int(entry.length)) {
					return entry.id, minMatch + int(entry.length), true
				}
			}
		}
	}

	probe := len(data)
	if probe > minMatch {
		probe = minMatch
	}
	word := bytesToU64LE(data, probe)
	for length := probe; length >= 1; length-- {
		word &= masks[length]
		if id, ok := m.shortLookup[shortKey{prefix: word, length: uint8(length)}]; ok {
			return id, length, true
		}
	}

	return 0, 0, false
}

// nInlineSuffixes is how many long entries a prefix record stores inline
// before spilling to the shared overflow slice.
const nInlineSuffixes = 4

// longRecord is the per-prefix record of the finalized matcher. It carries
// up to nInlineSuffixes long entries inline plus the precomputed answer for
// a cursor that matches the 8-byte prefix but none of the suffixes.
type longRecord struct {
	prefix         uint64
	inlineSuffixes [nInlineSuffixes]uint64
	inlineLengths  [nInlineSuffixes]uint8
	inlineIDs      [nInlineSuffixes]uint16
	nSuffixes      uint16
	overflow       uint16
	answerID       uint16
	answerLength   uint8
}

// StaticLongestPrefixMatcher16 is the read-only matcher used by the parse
// phase. Long-pattern prefixes are resolved through a displacement-based
// perfect hash, so a lookup costs one probe for the long phase plus
// at most seven for the short phase.
type StaticLongestPrefixMatcher16 struct {
	shortLookup map[shortKey]uint16
	mph         *perfectHash
	records     []longRecord
	overflow    []entry16
}

// Finalize converts the training matcher into its static form.
//
// Every 8-byte short entry migrates into the long table as the default
// answer of its prefix, which is why the static short phase only probes
// lengths 1..7.
func (m *LongestPrefixMatcher16) Finalize() *StaticLongestPrefixMatcher16 {
	records := make(map[uint64]*longRecord, len(m.buckets))
	var overflow []entry16

	for prefix, bucket := range m.buckets {
		// The fallback answer is the longest match of the bare 8-byte
		// prefix, resolved against the dynamic matcher.
		answerID, answerLength, _ := m.FindLongestMatch(u64ToBytes(prefix))

		rec := &longRecord{
			prefix:       prefix,
			nSuffixes:    uint16(len(bucket)),
			overflow:     uint16(len(overflow)),
			answerID:     answerID,
			answerLength: uint8(answerLength),
		}
		for i, entry := range bucket {
			if i < nInlineSuffixes {
				rec.inlineSuffixes[i] = entry.suffix
				rec.inlineLengths[i] = entry.length
				rec.inlineIDs[i] = entry.id
			} else {
				overflow = append(overflow, entry)
			}
		}
		records[prefix] = rec
	}

	shortLookup := make(map[shortKey]uint16, len(m.shortLookup))
	for key, id := range m.shortLookup {
		if key.length != minMatch {
			shortLookup[key] = id
			continue
		}
		if _, ok := records[key.prefix]; ok {
			// Already the default answer of its bucket.
			continue
		}
		records[key.prefix] = &longRecord{
			prefix:       key.prefix,
			answerID:     id,
			answerLength: minMatch,
		}
	}

	prefixes := make([]uint64, 0, len(records))
	for prefix := range records {
		prefixes = append(prefixes, prefix)
	}
	mph := newPerfectHash(prefixes)

	table := make([]longRecord, mph.tableSize)
	for prefix, rec := range records {
		table[mph.index(prefix)] = *rec
	}

	return &StaticLongestPrefixMatcher16{
		shortLookup: shortLookup,
		mph:         mph,
		records:     table,
		overflow:    overflow,
	}
}

// FindLongestMatch returns the token ID and length of the longest stored
// pattern that is a prefix of data.
func (m *StaticLongestPrefixMatcher16) FindLongestMatch(data []byte) (uint16, int, bool) {
	if len(data) >= minMatch {
		suffixLen := len(data)
		if suffixLen > maxPatternLen16 {
			suffixLen = maxPatternLen16
		}
		suffixLen -= minMatch

		prefix := bytesToU64LE(data, minMatch)
		suffix := bytesToU64LE(data[minMatch:], suffixLen)
		if id, length, ok := m.longAnswer(prefix, suffix, suffixLen); ok {
			return id, length, true
		}
	}

	probe := len(data)
	if probe > minMatch-1 {
		probe = minMatch - 1
	}
	word := bytesToU64LE(data, probe)
	for length := probe; length >= 1; length-- {
		word &= masks[length]
		if id, ok := m.shortLookup[shortKey{prefix: word, length: uint8(length)}]; ok {
			return id, length, true
		}
	}

	return 0, 0, false
}

func (m *StaticLongestPrefixMatcher16) longAnswer(prefix, suffix uint64, suffixLen int) (uint16, int, bool) {
	index := m.mph.index(prefix)
	if index >= len(m.records) || m.records[index].prefix != prefix {
		return 0, 0, false
	}
	rec := &m.records[index]
	if rec.answerLength == 0 && rec.nSuffixes == 0 {
		// Empty table slot whose zero prefix happens to equal the key.
		return 0, 0, false
	}

	inline := int(rec.nSuffixes)
	if inline > nInlineSuffixes {
		inline = nInlineSuffixes
	}
	for i := 0; i < inline; i++ {
		if isPrefix(suffix, rec.inlineSuffixes[i], suffixLen, int(rec.inlineLengths[i])) {
			return rec.inlineIDs[i], minMatch + int(rec.inlineLengths[i]), true
		}
	}

	if int(rec.nSuffixes) > nInlineSuffixes {
		start := int(rec.overflow)
		end := start + int(rec.nSuffixes) - nInlineSuffixes
		for i := start; i < end; i++ {
			entry := m.overflow[i]
			if isPrefix(suffix, entry.suffix, suffixLen, int(entry.length)) {
				return entry.id, minMatch + int(entry.length), true
			}
		}
	}

	if rec.answerLength == 0 {
		// No stored pattern matches within the bare 8-byte prefix.
		return 0, 0, false
	}
	return rec.answerID, int(rec.answerLength), true
}

// perfectHash is a displacement-based perfect hash over the long prefix
// keys. hash1 assigns each key to a displacement slot; hash2 with the slot's
// displacement yields the final collision-free index. The table is larger
// than the key set, so some slots stay empty.
type perfectHash struct {
	displacements []uint32
	tableSize     int
	seed1         uint64
	seed2         uint64
}

const (
	phSeed1 = 0x517cc1b727220a95
	phSeed2 = 0x8b51f5e3e9f0d2af
)

func newPerfectHash(keys []uint64) *perfectHash {
	if len(keys) == 0 {
		return &perfectHash{tableSize: 0, seed1: phSeed1, seed2: phSeed2}
	}

	tableSize := len(keys) + len(keys)/20 + 1
	seed1 := uint64(phSeed1)
	seed2 := uint64(phSeed2)

	for attempt := 0; ; attempt++ {
		if ph, ok := buildPerfectHash(keys, tableSize, seed1, seed2); ok {
			return ph
		}
		// Evolve the seeds; grow the table if the key set keeps resisting.
		seed1 = xxhash.Sum64(u64ToBytes(seed1))
		seed2 = xxhash.Sum64(u64ToBytes(seed2))
		if attempt%8 == 7 {
			tableSize *= 2
		}
	}
}

func buildPerfectHash(keys []uint64, tableSize int, seed1, seed2 uint64) (*perfectHash, bool) {
	displacements := make([]uint32, tableSize)
	occupied := make([]bool, tableSize)

	groups := make(map[int][]uint64)
	for _, key := range keys {
		h := phHash(key, seed1, tableSize)
		groups[h] = append(groups[h], key)
	}

	// Place the biggest groups first while the table is still empty.
	order := make([]int, 0, len(groups))
	for slot := range groups {
		order = append(order, slot)
	}
	sort.Slice(order, func(i, j int) bool {
		gi, gj := groups[order[i]], groups[order[j]]
		if len(gi) != len(gj) {
			return len(gi) > len(gj)
		}
		return order[i] < order[j]
	})

	positions := make([]int, 0, 8)
	for _, slot := range order {
		group := groups[slot]
		found := false
		for d := uint32(0); int(d) < tableSize*2; d++ {
			positions = positions[:0]
			valid := true
			for _, key := range group {
				pos := phHash(key^uint64(d), seed2, tableSize)
				if occupied[pos] {
					valid = false
					break
				}
				for _, prev := range positions {
					if prev == pos {
						valid = false
						break
					}
				}
				if !valid {
					break
				}
				positions = append(positions, pos)
			}
			if valid {
				displacements[slot] = d
				for _, pos := range positions {
					occupied[pos] = true
				}
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}

	return &perfectHash{
		displacements: displacements,
		tableSize:     tableSize,
		seed1:         seed1,
		seed2:         seed2,
	}, true
}

func (ph *perfectHash) index(key uint64) int {
	if ph.tableSize == 0 {
		return 0
	}
	d := ph.displacements[phHash(key, ph.seed1, ph.tableSize)]
	return phHash(key^uint64(d), ph.seed2, ph.tableSize)
}

// phHash mixes a key with a seed through a 64-bit finalizer and reduces it
// into the table.
func phHash(key, seed uint64, tableSize int) int {
	h := key ^ seed
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return int(h % uint64(tableSize))
}
