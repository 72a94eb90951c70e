package onpair

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxTemplateTokens bounds how many fields of a string contribute to its
// template key.
const maxTemplateTokens = 16

// Training on a sample keeps dictionary discovery cheap on multi-gigabyte
// corpora. The plain sampler takes shuffled strings until the byte budget is
// met; the stratified sampler first clusters strings by a drain-style
// template key and spends the budget round-robin across clusters, so string
// shapes that are rare in the corpus still reach the trainer.

func plainSampleIndices(ends []int, shuffled []int, budget int) ([]int, int) {
	sampled := 0
	for i, index := range shuffled {
		sampled += ends[index+1] - ends[index]
		if sampled >= budget {
			return shuffled[:i+1], sampled
		}
	}
	return shuffled, sampled
}

func stratifiedSampleIndices(data []byte, ends []int, shuffled []int, budget, maxClusters int) ([]int, int) {
	cache, err := lru.New[string, int](maxClusters)
	if err != nil {
		return plainSampleIndices(ends, shuffled, budget)
	}

	var clusters [][]int
	var order []int
	for _, index := range shuffled {
		line := data[ends[index]:ends[index+1]]
		key := templateKey(line, maxTemplateTokens)
		slot, ok := cache.Get(key)
		if !ok {
			slot = len(clusters)
			clusters = append(clusters, nil)
			order = append(order, slot)
			cache.Add(key, slot)
		}
		clusters[slot] = append(clusters[slot], index)
	}

	sample := make([]int, 0, len(shuffled))
	sampled := 0
	for round := 0; sampled < budget; round++ {
		progressed := false
		for _, slot := range order {
			cluster := clusters[slot]
			if round >= len(cluster) {
				continue
			}
			index := cluster[round]
			sample = append(sample, index)
			sampled += ends[index+1] - ends[index]
			progressed = true
			if sampled >= budget {
				return sample, sampled
			}
		}
		if !progressed {
			break
		}
	}
	return sample, sampled
}

// templateKey normalizes a log-like line into its template: dynamic fields
// (numbers, IPs, UUIDs, long hex runs) collapse to placeholders while stable
// fields stay literal. Strings with the same key describe the same shape.
func templateKey(line []byte, maxTokens int) string {
	fields := strings.Fields(string(line))
	if len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	for i, field := range fields {
		if eq := strings.IndexByte(field, '='); eq >= 0 {
			fields[i] = field[:eq+1] + classifyToken(field[eq+1:])
		} else {
			fields[i] = classifyToken(field)
		}
	}
	return strings.Join(fields, " ")
}

func classifyToken(token string) string {
	trimmed := strings.Trim(token, "[](){}<>\"',;")
	switch {
	case trimmed == "":
		return token
	case isUUID(trimmed):
		return "<UUID>"
	case isIPv4(trimmed):
		return "<IP>"
	case isHexRun(trimmed):
		return "<HEX>"
	case isNumberish(trimmed):
		return "<NUM>"
	}
	return token
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return false
		}
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false
			}
		}
	}
	return true
}

func isHexRun(s string) bool {
	if len(s) < 8 {
		return false
	}
	digits := false
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
		if s[i] >= '0' && s[i] <= '9' {
			digits = true
		}
	}
	return digits
}

// isNumberish accepts numbers plus the timestamp punctuation around them,
// so 2025-09-12T12:00:00Z and 12.5 both normalize.
func isNumberish(s string) bool {
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' || c == ':' || c == '-' || c == '+' || c == '/' || c == 'T' || c == 'Z':
		default:
			return false
		}
	}
	return digits
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
