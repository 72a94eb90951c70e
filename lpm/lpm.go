// Package lpm provides the longest prefix matchers behind OnPair token
// dictionaries.
//
// A matcher maps variable-length byte patterns to 16-bit token IDs and
// answers "which stored pattern is the longest prefix of this cursor?" in a
// bounded number of hash probes. Patterns split at 8 bytes: short patterns
// live in a hash map keyed by their masked little-endian word and length,
// long patterns are bucketed by their first 8 bytes with suffixes checked in
// descending length order.
package lpm

// minMatch is the split point between short (hashed) and long (bucketed)
// patterns: the width of one 64-bit word.
const minMatch = 8

// maxBucketSize caps entries per long-pattern bucket so a pathological
// prefix cannot dominate match cost.
const maxBucketSize = 128

// shortKey identifies a short pattern: the masked little-endian word plus
// the pattern length, since distinct lengths may share a masked value.
type shortKey struct {
	prefix uint64
	length uint8
}

// longEntry is one long pattern inside a bucket. The suffix (bytes beyond
// the 8-byte prefix key) lives in the matcher's suffix blob.
type longEntry struct {
	start uint32
	end   uint32
	id    uint16
}

// LongestPrefixMatcher is the unbounded-variant matcher: it accepts patterns
// of any length, storing long suffixes in an auxiliary byte blob.
type LongestPrefixMatcher struct {
	shortLookup map[shortKey]uint16
	buckets     map[uint64][]longEntry
	suffixes    []byte
}

// NewLongestPrefixMatcher creates an empty matcher.
func NewLongestPrefixMatcher() *LongestPrefixMatcher {
	return &LongestPrefixMatcher{
		shortLookup: make(map[shortKey]uint16),
		buckets:     make(map[uint64][]longEntry),
		suffixes:    make([]byte, 0, 1024*1024),
	}
}

// Insert adds a pattern with its token ID. Patterns of 1..8 bytes go to the
// short lookup; longer patterns are appended to the bucket of their 8-byte
// prefix key. Returns false when the target bucket is full, in which case
// the matcher is unchanged and the caller abandons the merge.
//
// A short pattern that collides with an existing key leaves the earlier
// entry in place.
func (m *LongestPrefixMatcher) Insert(data []byte, id uint16) bool {
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

	start := uint32(len(m.suffixes))
	m.suffixes = append(m.suffixes, data[minMatch:]...)
	bucket = append(bucket, longEntry{start: start, end: uint32(len(m.suffixes)), id: id})

	// Keep the bucket sorted by suffix length, longest first, so lookup can
	// return the first hit. Entries arrive one at a time and equal lengths
	// keep insertion order.
	for i := len(bucket) - 1; i > 0; i-- {
		li := bucket[i].end - bucket[i].start
		lj := bucket[i-1].end - bucket[i-1].start
		if li > lj {
			bucket[i], bucket[i-1] = bucket[i-1], bucket[i]
		} else {
			break
		}
	}
	m.buckets[prefix] = bucket
	return true
}

// FindLongestMatch returns the token ID and length of the longest stored
// pattern that is a prefix of data. The long phase checks the bucket of the
// cursor's 8-byte prefix key; the short phase probes masked words from
// min(len(data), 8) down to 1.
func (m *LongestPrefixMatcher) FindLongestMatch(data []byte) (uint16, int, bool) {
	if len(data) > minMatch {
		prefix := bytesToU64LE(data, minMatch)
		if bucket, ok := m.buckets[prefix]; ok {
			rest := data[minMatch:]
			for _, entry := range bucket {
				suffix := m.suffixes[entry.start:entry.end]
				if len(rest) >= len(suffix) && string(rest[:len(suffix)]) == string(suffix) {
					return entry.id, minMatch + len(suffix), true
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
