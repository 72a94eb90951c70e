// Package onpair compresses collections of short strings into fixed-width
// 16-bit token streams with random access to every string.
//
// # Overview
//
// OnPair learns a dictionary of up to 65,536 byte-sequence tokens from the
// corpus itself. Token IDs 0-255 are the single bytes, so any input parses;
// the remaining IDs are grown by repeatedly merging adjacent token pairs
// that occur often enough. Each string is then re-encoded as a sequence of
// 16-bit token IDs, and per-string boundaries let any string be decompressed
// on its own without touching its neighbours.
//
// Two variants share the API:
//
//   - OnPair places no limit on token length. Decompression copies 8-byte
//     blocks with a variable tail for longer tokens.
//   - OnPair16 caps tokens at 16 bytes. Decompression is a single
//     unconditional 16-byte block store per token, which makes it the
//     faster variant at a small cost in ratio.
//
// # When to Use OnPair
//
// OnPair targets workloads that keep many short strings hot and need to
// read them individually:
//   - URL, key and identifier columns
//   - log lines and event messages
//   - tag sets and label values
//
// # When NOT to Use OnPair
//
// Block codecs beat OnPair when strings are only read in bulk, and
// incompressible data (random, encrypted) gains nothing from a learned
// dictionary. The codec is also corpus-static: adding strings means
// recompressing.
//
// # Basic Usage
//
//	codec := onpair.New()
//	if err := codec.CompressStrings(lines); err != nil {
//		return err
//	}
//
//	// Random access: slack covers the fixed-width block stores
//	// (7 bytes for OnPair, 15 for OnPair16).
//	buf := make([]byte, codec.DecompressedLen(42)+7)
//	n := codec.DecompressString(42, buf)
//	_ = buf[:n]
//
// Compression is a two-phase, single-shot operation. After a Compress call
// returns, the codec is immutable and its decompression methods are safe
// for concurrent use.
//
// # Training Sample
//
// Dictionary discovery runs on a bounded sample (1 MiB by default) drawn
// from a shuffled visit order, so multi-gigabyte corpora train in roughly
// constant time. WithStratifiedSampling spreads the sample across
// template-shaped clusters of strings, which helps when rare string shapes
// would otherwise be crowded out of the sample.
//
// # Persistence
//
// Archive is the serializable form: WriteTo stores the four codec arrays in
// a sectioned format with per-section entropy coding, and ReadFrom restores
// a validated, bounds-checked decompressor without retraining.
package onpair
