package onpair

import (
	"fmt"
	"testing"
)

func TestTemplateKey(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{
			"connection from 10.1.2.3 closed",
			"connection from <IP> closed",
		},
		{
			"request 550e8400-e29b-41d4-a716-446655440000 done in 12ms",
			"request <UUID> done in 12ms",
		},
		{
			"retry attempt 3 of 5",
			"retry attempt <NUM> of <NUM>",
		},
		{
			"ts=2025-09-12T12:00:00Z level=info msg=started",
			"ts=<NUM> level=info msg=started",
		},
		{
			"commit deadbeef1234 pushed",
			"commit <HEX> pushed",
		},
		{
			"plain words only here",
			"plain words only here",
		},
		{
			"bracketed [42] value",
			"bracketed <NUM> value",
		},
	}
	for _, tt := range tests {
		if got := templateKey([]byte(tt.line), maxTemplateTokens); got != tt.want {
			t.Errorf("templateKey(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestTemplateKeyTruncatesFields(t *testing.T) {
	line := "a b c d e f"
	if got := templateKey([]byte(line), 3); got != "a b c" {
		t.Errorf("templateKey = %q, want %q", got, "a b c")
	}
}

func TestClassifyToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"12345", "<NUM>"},
		{"12.5", "<NUM>"},
		{"10.0.0.1", "<IP>"},
		{"256.0.0.1", "<IP>"}, // dotted-quad shape, octet range not enforced
		{"550e8400-e29b-41d4-a716-446655440000", "<UUID>"},
		{"deadbeef99", "<HEX>"},
		{"abcdefab", ""}, // hex letters only, no digit
		{"hello", ""},
		{"", ""},
		{"(99)", "<NUM>"},
	}
	for _, tt := range tests {
		want := tt.want
		if want == "" {
			want = tt.token
		}
		if got := classifyToken(tt.token); got != want {
			t.Errorf("classifyToken(%q) = %q, want %q", tt.token, got, want)
		}
	}
}

func makeSampleCorpus(counts map[string]int) ([]byte, []int, []int) {
	var lines []string
	for shape, n := range counts {
		for i := 0; i < n; i++ {
			lines = append(lines, fmt.Sprintf(shape, i))
		}
	}
	data, ends := FlattenStrings(lines)
	shuffled := make([]int, len(lines))
	for i := range shuffled {
		shuffled[i] = i
	}
	newMT19937(9).shuffle(shuffled)
	return data, ends, shuffled
}

func TestPlainSampleStopsAtBudget(t *testing.T) {
	_, ends, shuffled := makeSampleCorpus(map[string]int{"request number %06d": 1000})

	const budget = 500
	sample, sampled := plainSampleIndices(ends, shuffled, budget)
	if sampled < budget {
		t.Errorf("sampled %d bytes, budget was %d", sampled, budget)
	}
	// The sample stops right after crossing the budget.
	lastLen := ends[sample[len(sample)-1]+1] - ends[sample[len(sample)-1]]
	if sampled-lastLen >= budget {
		t.Errorf("sample overshoots: %d bytes before the final string", sampled-lastLen)
	}
}

func TestPlainSampleSmallCorpusTakesAll(t *testing.T) {
	_, ends, shuffled := makeSampleCorpus(map[string]int{"short %d": 10})
	sample, sampled := plainSampleIndices(ends, shuffled, 1<<20)
	if len(sample) != 10 {
		t.Errorf("sample holds %d strings, want all 10", len(sample))
	}
	if sampled != ends[len(ends)-1] {
		t.Errorf("sampled %d bytes, want %d", sampled, ends[len(ends)-1])
	}
}

// A shape that is rare in the corpus must still appear early in a
// stratified sample instead of drowning under the dominant shape.
func TestStratifiedSampleCoversRareShapes(t *testing.T) {
	data, ends, shuffled := makeSampleCorpus(map[string]int{
		"request number %06d":                  5000,
		"rare disk failure on volume vol-%04d": 3,
	})

	const budget = 400
	sample, sampled := stratifiedSampleIndices(data, ends, shuffled, budget, defaultMaxClusters)
	if sampled < budget {
		t.Fatalf("sampled %d bytes, budget was %d", sampled, budget)
	}

	foundRare := false
	for _, index := range sample {
		line := string(data[ends[index]:ends[index+1]])
		if len(line) > 4 && line[:4] == "rare" {
			foundRare = true
			break
		}
	}
	if !foundRare {
		t.Error("stratified sample never reached the rare shape")
	}
}

func TestStratifiedSampleExhaustsSmallCorpus(t *testing.T) {
	data, ends, shuffled := makeSampleCorpus(map[string]int{"entry %d": 20})
	sample, _ := stratifiedSampleIndices(data, ends, shuffled, 1<<20, defaultMaxClusters)
	if len(sample) != 20 {
		t.Errorf("sample holds %d strings, want all 20", len(sample))
	}
}

func TestStratifiedCompressionRoundTrip(t *testing.T) {
	input := syntheticLogLines(3000)
	codec := roundTripStrings(t, input,
		WithSeed(11),
		WithStratifiedSampling(),
		WithTrainingSampleBytes(8*1024),
		WithMaxTemplateClusters(64),
	)
	if codec.TotalLen() == 0 {
		t.Error("stratified compression produced an empty corpus")
	}
}
