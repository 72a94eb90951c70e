package onpair

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// decompressSlack is the buffer headroom the fast decompression paths need
// past the true output length.
const decompressSlack = 16

func syntheticLogLines(n int) []string {
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		switch i % 4 {
		case 0:
			lines[i] = fmt.Sprintf("GET /api/v1/users/%d HTTP/1.1 200", i)
		case 1:
			lines[i] = fmt.Sprintf("POST /api/v1/orders/%d HTTP/1.1 201", i)
		case 2:
			lines[i] = fmt.Sprintf("connection from 10.0.%d.%d closed", i%256, (i*7)%256)
		default:
			lines[i] = fmt.Sprintf("cache miss key=user:%d backend=primary", i)
		}
	}
	return lines
}

func roundTripStrings(t *testing.T, input []string, opts ...Option) *OnPair {
	t.Helper()
	codec := New(opts...)
	if err := codec.CompressStrings(input); err != nil {
		t.Fatalf("CompressStrings: %v", err)
	}
	if got := codec.NumStrings(); got != len(input) {
		t.Fatalf("NumStrings = %d, want %d", got, len(input))
	}

	buffer := make([]byte, maxStringLen(input)+decompressSlack)
	for i, expected := range input {
		n := codec.DecompressString(i, buffer)
		if got := string(buffer[:n]); got != expected {
			t.Fatalf("string %d: got %q, want %q", i, got, expected)
		}
	}
	return codec
}

func maxStringLen(input []string) int {
	longest := 0
	for _, s := range input {
		if len(s) > longest {
			longest = len(s)
		}
	}
	return longest
}

func TestCompressStringsRoundTrip(t *testing.T) {
	roundTripStrings(t, []string{
		"user_000001",
		"user_000002",
		"user_000003",
		"admin_001",
		"user_000004",
	})
}

func TestCompressStringsRoundTripLarge(t *testing.T) {
	roundTripStrings(t, syntheticLogLines(5000))
}

func TestCompressEmptyStrings(t *testing.T) {
	codec := roundTripStrings(t, []string{"", "test", "", "data", ""})
	for _, i := range []int{0, 2, 4} {
		if got := codec.DecompressedLen(i); got != 0 {
			t.Errorf("DecompressedLen(%d) = %d, want 0", i, got)
		}
	}
}

func TestCompressSingleString(t *testing.T) {
	roundTripStrings(t, []string{"the lone survivor of the corpus"})
}

func TestCompressBinaryData(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	roundTripStrings(t, []string{string(all), "\x00\x00\x00", string(all[128:])})
}

func TestCompressNoStrings(t *testing.T) {
	codec := New()
	if err := codec.CompressStrings(nil); err != nil {
		t.Fatalf("CompressStrings(nil): %v", err)
	}
	if got := codec.NumStrings(); got != 0 {
		t.Errorf("NumStrings = %d, want 0", got)
	}
	if got := codec.DecompressAll(make([]byte, decompressSlack)); got != 0 {
		t.Errorf("DecompressAll = %d, want 0", got)
	}
}

func TestDecompressAll(t *testing.T) {
	input := syntheticLogLines(300)
	codec := roundTripStrings(t, input)

	want := strings.Join(input, "")
	buffer := make([]byte, len(want)+decompressSlack)
	n := codec.DecompressAll(buffer)
	if got := string(buffer[:n]); got != want {
		t.Errorf("DecompressAll mismatch: %d bytes vs %d wanted", n, len(want))
	}
	if got := codec.TotalLen(); got != len(want) {
		t.Errorf("TotalLen = %d, want %d", got, len(want))
	}
}

func TestDecompressedLenMatchesOutput(t *testing.T) {
	input := syntheticLogLines(200)
	codec := roundTripStrings(t, input)

	buffer := make([]byte, maxStringLen(input)+decompressSlack)
	for i, s := range input {
		if got := codec.DecompressedLen(i); got != len(s) {
			t.Errorf("DecompressedLen(%d) = %d, want %d", i, got, len(s))
		}
		if n := codec.DecompressString(i, buffer); n != len(s) {
			t.Errorf("DecompressString(%d) wrote %d bytes, want %d", i, n, len(s))
		}
	}
}

func TestCompressBytesRejectsBadLayout(t *testing.T) {
	data := []byte("abcdef")
	tests := []struct {
		name string
		ends []int
	}{
		{"empty", nil},
		{"missing leading zero", []int{1, 3}},
		{"not monotone", []int{0, 4, 2}},
		{"past data end", []int{0, 3, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().CompressBytes(data, tt.ends)
			if !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("got %v, want ErrInvalidLayout", err)
			}
		})
	}
}

func TestIdentityTokensAlwaysParse(t *testing.T) {
	// A corpus too small for any promotion still round-trips through the
	// 256 single-byte tokens.
	codec := roundTripStrings(t, []string{"xy", "zq"}, WithThreshold(1000))

	for i, s := range []string{"xy", "zq"} {
		start := codec.StringBoundaries()[i]
		end := codec.StringBoundaries()[i+1]
		if end-start != len(s) {
			t.Errorf("string %d: %d tokens, want %d single-byte tokens", i, end-start, len(s))
		}
		for _, tokenID := range codec.CompressedData()[start:end] {
			if tokenID > 255 {
				t.Errorf("string %d: unexpected merged token %d", i, tokenID)
			}
		}
	}
}

func TestStringBoundariesMonotone(t *testing.T) {
	codec := roundTripStrings(t, syntheticLogLines(1000))

	bounds := codec.StringBoundaries()
	if bounds[0] != 0 {
		t.Fatalf("boundaries start at %d", bounds[0])
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] < bounds[i-1] {
			t.Fatalf("boundaries not monotone at %d", i)
		}
	}
	if last := bounds[len(bounds)-1]; last != len(codec.CompressedData()) {
		t.Fatalf("last boundary %d does not cover token stream of %d", last, len(codec.CompressedData()))
	}
}

func TestTokenBoundariesCoverDictionary(t *testing.T) {
	codec := roundTripStrings(t, syntheticLogLines(1000))

	bounds := codec.TokenBoundaries()
	if len(bounds) < singleByteTokens+1 || bounds[0] != 0 {
		t.Fatalf("unexpected token boundary shape: len=%d first=%d", len(bounds), bounds[0])
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] < bounds[i-1] {
			t.Fatalf("token boundaries not monotone at %d", i)
		}
	}
	if int(bounds[len(bounds)-1]) != len(codec.Dictionary()) {
		t.Fatalf("token boundaries do not cover dictionary")
	}

	// The first 256 tokens are the identity bytes.
	for i := 0; i < singleByteTokens; i++ {
		token := codec.Dictionary()[bounds[i]:bounds[i+1]]
		if len(token) != 1 || token[0] != byte(i) {
			t.Fatalf("token %d is %v, want single byte %d", i, token, i)
		}
	}
}

func TestSeedMakesCompressionDeterministic(t *testing.T) {
	input := syntheticLogLines(2000)

	a := New(WithSeed(1234))
	b := New(WithSeed(1234))
	if err := a.CompressStrings(input); err != nil {
		t.Fatal(err)
	}
	if err := b.CompressStrings(input); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.Dictionary(), b.Dictionary()) {
		t.Error("same seed produced different dictionaries")
	}
	ac, bc := a.CompressedData(), b.CompressedData()
	if len(ac) != len(bc) {
		t.Fatalf("token streams differ in length: %d vs %d", len(ac), len(bc))
	}
	for i := range ac {
		if ac[i] != bc[i] {
			t.Fatalf("token streams diverge at %d", i)
		}
	}
}

func TestMaxTokenIDCapsDictionary(t *testing.T) {
	const limit = 300
	codec := New(WithSeed(1), WithThreshold(2), WithMaxTokenID(limit))
	if err := codec.CompressStrings(syntheticLogLines(3000)); err != nil {
		t.Fatal(err)
	}

	if tokens := len(codec.TokenBoundaries()) - 1; tokens > limit+1 {
		t.Errorf("dictionary holds %d tokens, cap was %d", tokens, limit+1)
	}
	for _, tokenID := range codec.CompressedData() {
		if tokenID > limit {
			t.Errorf("token stream contains ID %d past cap %d", tokenID, limit)
		}
	}
}

func TestCompressionActuallyShrinks(t *testing.T) {
	input := make([]string, 2000)
	for i := range input {
		input[i] = fmt.Sprintf("level=info msg=\"request handled\" status=200 path=/healthz attempt=%d", i%10)
	}
	codec := roundTripStrings(t, input, WithSeed(7))

	raw := codec.TotalLen()
	packed := len(codec.CompressedData()) * 2
	if packed >= raw {
		t.Errorf("token stream (%d bytes) not smaller than raw corpus (%d bytes)", packed, raw)
	}
}

func TestSpaceUsedAccounting(t *testing.T) {
	codec := roundTripStrings(t, syntheticLogLines(500))

	want := len(codec.CompressedData())*2 +
		len(codec.Dictionary()) +
		len(codec.TokenBoundaries())*4 +
		len(codec.StringBoundaries())*8
	if got := codec.SpaceUsed(); got != want {
		t.Errorf("SpaceUsed = %d, want %d", got, want)
	}
}

func TestShrinkToFitPreservesContent(t *testing.T) {
	input := syntheticLogLines(800)
	codec := roundTripStrings(t, input)
	codec.ShrinkToFit()

	buffer := make([]byte, maxStringLen(input)+decompressSlack)
	for i, expected := range input {
		n := codec.DecompressString(i, buffer)
		if got := string(buffer[:n]); got != expected {
			t.Fatalf("string %d after ShrinkToFit: got %q, want %q", i, got, expected)
		}
	}
}

func TestWithCapacityRoundTrip(t *testing.T) {
	input := syntheticLogLines(400)
	total := 0
	for _, s := range input {
		total += len(s)
	}

	codec := WithCapacity(len(input), total, WithSeed(5))
	if err := codec.CompressStrings(input); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, maxStringLen(input)+decompressSlack)
	for i, expected := range input {
		n := codec.DecompressString(i, buffer)
		if got := string(buffer[:n]); got != expected {
			t.Fatalf("string %d: got %q, want %q", i, got, expected)
		}
	}
}

func TestFlattenStrings(t *testing.T) {
	data, ends := FlattenStrings([]string{"abc", "", "de"})
	if string(data) != "abcde" {
		t.Errorf("data = %q", data)
	}
	wantEnds := []int{0, 3, 3, 5}
	if len(ends) != len(wantEnds) {
		t.Fatalf("ends = %v, want %v", ends, wantEnds)
	}
	for i := range ends {
		if ends[i] != wantEnds[i] {
			t.Fatalf("ends = %v, want %v", ends, wantEnds)
		}
	}
}

func BenchmarkCompress(b *testing.B) {
	input := syntheticLogLines(10000)
	data, ends := FlattenStrings(input)

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		codec := New(WithSeed(1))
		if err := codec.CompressBytes(data, ends); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecompressString(b *testing.B) {
	input := syntheticLogLines(10000)
	codec := New(WithSeed(1))
	if err := codec.CompressStrings(input); err != nil {
		b.Fatal(err)
	}
	buffer := make([]byte, maxStringLen(input)+decompressSlack)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		codec.DecompressString(i%len(input), buffer)
	}
}

func BenchmarkDecompressAll(b *testing.B) {
	input := syntheticLogLines(10000)
	codec := New(WithSeed(1))
	if err := codec.CompressStrings(input); err != nil {
		b.Fatal(err)
	}
	buffer := make([]byte, codec.TotalLen()+decompressSlack)

	b.ReportAllocs()
	b.SetBytes(int64(codec.TotalLen()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		codec.DecompressAll(buffer)
	}
}
