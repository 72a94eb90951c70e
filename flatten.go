package onpair

// FlattenStrings concatenates strings into one byte buffer plus a prefix-sum
// of end offsets: ends[0] = 0 and ends[i+1] = ends[i] + len(strings[i]).
// The result is the input shape expected by CompressBytes.
func FlattenStrings(strings []string) ([]byte, []int) {
	totalLen := 0
	for _, s := range strings {
		totalLen += len(s)
	}

	data := make([]byte, 0, totalLen)
	ends := make([]int, 0, len(strings)+1)
	ends = append(ends, 0)

	for _, s := range strings {
		data = append(data, s...)
		ends = append(ends, len(data))
	}
	return data, ends
}
