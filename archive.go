package onpair

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
	"github.com/klauspost/compress/zstd"
)

// Archive is the serializable form of a compressed corpus: the four arrays a
// codec produces, detached from any matcher state. An Archive loaded with
// ReadFrom decompresses without retraining, and unlike the codecs it bounds-
// checks every access, so it is the right type for data read from disk or
// the network.
//
// Archives built from a codec share its backing arrays.
type Archive struct {
	CompressedData   []uint16
	StringBoundaries []int
	Dictionary       []byte
	TokenBoundaries  []uint32
}

// ErrCorruptArchive indicates a serialized archive that fails structural
// validation.
var ErrCorruptArchive = errors.New("onpair: corrupt archive")

// ErrShortBuffer indicates a decompression buffer smaller than the output.
var ErrShortBuffer = errors.New("onpair: buffer too small")

const (
	archiveMagic   = "ONPA"
	archiveVersion = uint8(1)

	sectionTokens     = uint8(1)
	sectionStrings    = uint8(2)
	sectionDictionary = uint8(3)
	sectionOffsets    = uint8(4)

	codecRaw   = uint8(0)
	codecFlate = uint8(1)
	codecZstd  = uint8(2)

	tokenWidth16 = uint8(16)
	tokenWidth12 = uint8(12)

	// Largest token ID that 12-bit packing can hold.
	maxTokenID12 = 1<<12 - 1

	maxSectionBytes = 1 << 30
)

// Wire format, version 1:
//
//	magic[4] = "ONPA"
//	version  = uint8
//	repeat 4 times (tokens, strings, dictionary, offsets, in that order):
//	  section = uint8
//	  codec   = uint8  (raw, flate or zstd over the section payload)
//	  param   = uint8  (token bit width for the tokens section, else 0)
//	  rawLen  = uint32 little-endian, decoded payload size
//	  encLen  = uint32 little-endian, stored payload size
//	  payload = encLen bytes
//
// The tokens, strings and offsets payloads carry a leading uint32 element
// count followed by the elements: token IDs packed at the declared bit
// width, boundary arrays as uvarint deltas. The dictionary payload is the
// raw dictionary bytes with no count.

// Archive returns the archive view of a compressed codec.
func (op *OnPair) Archive() *Archive {
	return &Archive{
		CompressedData:   op.compressedData,
		StringBoundaries: op.stringBoundaries,
		Dictionary:       op.dictionary,
		TokenBoundaries:  op.tokenBoundaries,
	}
}

// Archive returns the archive view of a compressed codec.
func (op *OnPair16) Archive() *Archive {
	return &Archive{
		CompressedData:   op.compressedData,
		StringBoundaries: op.stringBoundaries,
		Dictionary:       op.dictionary,
		TokenBoundaries:  op.tokenBoundaries,
	}
}

// NumStrings returns how many strings the archive holds.
func (a *Archive) NumStrings() int {
	if len(a.StringBoundaries) == 0 {
		return 0
	}
	return len(a.StringBoundaries) - 1
}

// DecompressedLen returns the decompressed byte length of string index.
func (a *Archive) DecompressedLen(index int) (int, error) {
	if index < 0 || index+1 >= len(a.StringBoundaries) {
		return 0, fmt.Errorf("onpair: string index %d out of range", index)
	}
	start, end := a.StringBoundaries[index], a.StringBoundaries[index+1]
	return a.tokenSpanLen(a.CompressedData[start:end])
}

// TotalLen returns the decompressed byte length of the whole corpus.
func (a *Archive) TotalLen() (int, error) {
	return a.tokenSpanLen(a.CompressedData)
}

func (a *Archive) tokenSpanLen(tokens []uint16) (int, error) {
	length := 0
	for pos, tokenID := range tokens {
		if int(tokenID)+1 >= len(a.TokenBoundaries) {
			return 0, fmt.Errorf("%w: token ID %d at position %d", ErrCorruptArchive, tokenID, pos)
		}
		length += int(a.TokenBoundaries[tokenID+1] - a.TokenBoundaries[tokenID])
	}
	return length, nil
}

// DecompressString writes string index into buffer and returns the byte
// count written. Unlike the codec fast path, every token access is bounds
// checked and the buffer needs no slack.
func (a *Archive) DecompressString(index int, buffer []byte) (int, error) {
	if index < 0 || index+1 >= len(a.StringBoundaries) {
		return 0, fmt.Errorf("onpair: string index %d out of range", index)
	}
	start, end := a.StringBoundaries[index], a.StringBoundaries[index+1]
	return a.copyTokens(a.CompressedData[start:end], buffer)
}

// DecompressAll writes the concatenation of every string in index order.
func (a *Archive) DecompressAll(buffer []byte) (int, error) {
	return a.copyTokens(a.CompressedData, buffer)
}

// AppendString appends the decompressed string at index to dst.
func (a *Archive) AppendString(dst []byte, index int) ([]byte, error) {
	if index < 0 || index+1 >= len(a.StringBoundaries) {
		return dst, fmt.Errorf("onpair: string index %d out of range", index)
	}
	start, end := a.StringBoundaries[index], a.StringBoundaries[index+1]
	for pos, tokenID := range a.CompressedData[start:end] {
		if int(tokenID)+1 >= len(a.TokenBoundaries) {
			return dst, fmt.Errorf("%w: token ID %d at position %d", ErrCorruptArchive, tokenID, start+pos)
		}
		dst = append(dst, a.Dictionary[a.TokenBoundaries[tokenID]:a.TokenBoundaries[tokenID+1]]...)
	}
	return dst, nil
}

func (a *Archive) copyTokens(tokens []uint16, buffer []byte) (int, error) {
	size := 0
	for pos, tokenID := range tokens {
		if int(tokenID)+1 >= len(a.TokenBoundaries) {
			return 0, fmt.Errorf("%w: token ID %d at position %d", ErrCorruptArchive, tokenID, pos)
		}
		token := a.Dictionary[a.TokenBoundaries[tokenID]:a.TokenBoundaries[tokenID+1]]
		if size+len(token) > len(buffer) {
			return 0, fmt.Errorf("%w: need %d bytes", ErrShortBuffer, size+len(token))
		}
		copy(buffer[size:], token)
		size += len(token)
	}
	return size, nil
}

// SpaceUsed returns the in-memory byte footprint of the archive arrays.
func (a *Archive) SpaceUsed() int {
	return len(a.CompressedData)*2 +
		len(a.Dictionary) +
		len(a.TokenBoundaries)*4 +
		len(a.StringBoundaries)*8
}

// WriteTo serializes the archive. Each section is stored under whichever of
// raw, flate and zstd encodes it smallest, and the token stream drops to
// 12-bit packing when every token ID fits.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	var total int64

	n, err := w.Write([]byte(archiveMagic))
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write([]byte{archiveVersion})
	total += int64(n)
	if err != nil {
		return total, err
	}

	tokensRaw, width := encodeTokens(a.CompressedData)
	sections := []struct {
		id    uint8
		param uint8
		raw   []byte
	}{
		{sectionTokens, width, tokensRaw},
		{sectionStrings, 0, encodeDeltas(len(a.StringBoundaries), func(i int) uint64 { return uint64(a.StringBoundaries[i]) })},
		{sectionDictionary, 0, a.Dictionary},
		{sectionOffsets, 0, encodeDeltas(len(a.TokenBoundaries), func(i int) uint64 { return uint64(a.TokenBoundaries[i]) })},
	}

	for _, section := range sections {
		written, err := writeSection(w, section.id, section.param, section.raw)
		total += written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom deserializes an archive written by WriteTo, replacing the
// receiver's arrays. The result is validated so the decompression methods
// can trust offsets to be monotone and in range.
func (a *Archive) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	header := make([]byte, len(archiveMagic)+1)
	n, err := io.ReadFull(r, header)
	total += int64(n)
	if err != nil {
		return total, err
	}
	if string(header[:len(archiveMagic)]) != archiveMagic {
		return total, fmt.Errorf("%w: bad magic", ErrCorruptArchive)
	}
	if header[len(archiveMagic)] != archiveVersion {
		return total, fmt.Errorf("%w: unsupported version %d", ErrCorruptArchive, header[len(archiveMagic)])
	}

	var loaded Archive
	for _, want := range []uint8{sectionTokens, sectionStrings, sectionDictionary, sectionOffsets} {
		id, param, raw, read, err := readSection(r)
		total += read
		if err != nil {
			return total, err
		}
		if id != want {
			return total, fmt.Errorf("%w: section %d where %d expected", ErrCorruptArchive, id, want)
		}

		switch id {
		case sectionTokens:
			loaded.CompressedData, err = decodeTokens(raw, param)
		case sectionStrings:
			loaded.StringBoundaries, err = decodeDeltaInts(raw)
		case sectionDictionary:
			loaded.Dictionary = raw
		case sectionOffsets:
			loaded.TokenBoundaries, err = decodeDeltaU32s(raw)
		}
		if err != nil {
			return total, err
		}
	}

	if err := loaded.validate(); err != nil {
		return total, err
	}
	*a = loaded
	return total, nil
}

func (a *Archive) validate() error {
	if len(a.TokenBoundaries) < 2 || a.TokenBoundaries[0] != 0 {
		return fmt.Errorf("%w: token boundaries must start with 0", ErrCorruptArchive)
	}
	if int(a.TokenBoundaries[len(a.TokenBoundaries)-1]) != len(a.Dictionary) {
		return fmt.Errorf("%w: token boundaries do not cover the dictionary", ErrCorruptArchive)
	}
	if len(a.StringBoundaries) == 0 || a.StringBoundaries[0] != 0 {
		return fmt.Errorf("%w: string boundaries must start with 0", ErrCorruptArchive)
	}
	if a.StringBoundaries[len(a.StringBoundaries)-1] != len(a.CompressedData) {
		return fmt.Errorf("%w: string boundaries do not cover the token stream", ErrCorruptArchive)
	}
	for _, tokenID := range a.CompressedData {
		if int(tokenID)+1 >= len(a.TokenBoundaries) {
			return fmt.Errorf("%w: token ID %d out of range", ErrCorruptArchive, tokenID)
		}
	}
	return nil
}

func writeSection(w io.Writer, id, param uint8, raw []byte) (int64, error) {
	if len(raw) > maxSectionBytes {
		return 0, fmt.Errorf("onpair: section %d payload too large: %d", id, len(raw))
	}

	payload, codec := raw, codecRaw
	if flated, err := flatePayload(raw); err == nil && len(flated) < len(payload) {
		payload, codec = flated, codecFlate
	}
	if zstded, err := zstdPayload(raw); err == nil && len(zstded) < len(payload) {
		payload, codec = zstded, codecZstd
	}

	header := make([]byte, 11)
	header[0] = id
	header[1] = codec
	header[2] = param
	binary.LittleEndian.PutUint32(header[3:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(header[7:], uint32(len(payload)))

	var total int64
	n, err := w.Write(header)
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(payload)
	total += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}

func readSection(r io.Reader) (id, param uint8, raw []byte, total int64, err error) {
	header := make([]byte, 11)
	n, err := io.ReadFull(r, header)
	total += int64(n)
	if err != nil {
		return 0, 0, nil, total, err
	}

	id, codec, param := header[0], header[1], header[2]
	rawLen := binary.LittleEndian.Uint32(header[3:])
	encLen := binary.LittleEndian.Uint32(header[7:])
	if rawLen > maxSectionBytes || encLen > maxSectionBytes {
		return 0, 0, nil, total, fmt.Errorf("%w: section %d payload too large", ErrCorruptArchive, id)
	}

	// Grown incrementally so a forged length fails at end of input instead
	// of provoking a giant upfront allocation.
	payload, err := io.ReadAll(io.LimitReader(r, int64(encLen)))
	total += int64(len(payload))
	if err != nil {
		return 0, 0, nil, total, err
	}
	if len(payload) != int(encLen) {
		return 0, 0, nil, total, fmt.Errorf("%w: section %d truncated", ErrCorruptArchive, id)
	}

	switch codec {
	case codecRaw:
		raw = payload
	case codecFlate:
		raw, err = unflatePayload(payload, int(rawLen))
	case codecZstd:
		raw, err = unzstdPayload(payload)
	default:
		err = fmt.Errorf("%w: unknown codec %d", ErrCorruptArchive, codec)
	}
	if err != nil {
		return 0, 0, nil, total, err
	}
	if len(raw) != int(rawLen) {
		return 0, 0, nil, total, fmt.Errorf("%w: section %d decoded to %d bytes, header says %d",
			ErrCorruptArchive, id, len(raw), rawLen)
	}
	return id, param, raw, total, nil
}

func flatePayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unflatePayload(payload []byte, rawLen int) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()
	raw, err := io.ReadAll(io.LimitReader(fr, int64(rawLen)+1))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func zstdPayload(raw []byte) ([]byte, error) {
	zw, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	defer zw.Close()
	return zw.EncodeAll(raw, nil), nil
}

func unzstdPayload(payload []byte) ([]byte, error) {
	zr, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSectionBytes))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return zr.DecodeAll(payload, nil)
}

// encodeTokens packs the token stream at 12 bits per ID when every ID fits,
// 16 bits otherwise.
func encodeTokens(tokens []uint16) ([]byte, uint8) {
	width := tokenWidth12
	for _, tokenID := range tokens {
		if tokenID > maxTokenID12 {
			width = tokenWidth16
			break
		}
	}

	var buf bytes.Buffer
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(tokens)))
	buf.Write(count)

	bw := bitio.NewWriter(&buf)
	for _, tokenID := range tokens {
		_ = bw.WriteBits(uint64(tokenID), width)
	}
	_ = bw.Close()
	return buf.Bytes(), width
}

func decodeTokens(raw []byte, width uint8) ([]uint16, error) {
	if width != tokenWidth12 && width != tokenWidth16 {
		return nil, fmt.Errorf("%w: unknown token width %d", ErrCorruptArchive, width)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: token section too short", ErrCorruptArchive)
	}
	count := int(binary.LittleEndian.Uint32(raw))
	if need := 4 + (count*int(width)+7)/8; len(raw) < need {
		return nil, fmt.Errorf("%w: token section truncated", ErrCorruptArchive)
	}

	tokens := make([]uint16, count)
	br := bitio.NewReader(bytes.NewReader(raw[4:]))
	for i := range tokens {
		v, err := br.ReadBits(width)
		if err != nil {
			return nil, fmt.Errorf("%w: token section truncated", ErrCorruptArchive)
		}
		tokens[i] = uint16(v)
	}
	return tokens, nil
}

// encodeDeltas stores a monotone offset array as a count plus uvarint
// deltas; the first delta is the first value itself.
func encodeDeltas(count int, at func(int) uint64) []byte {
	buf := make([]byte, 0, 4+count*2)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))

	prev := uint64(0)
	for i := 0; i < count; i++ {
		v := at(i)
		buf = binary.AppendUvarint(buf, v-prev)
		prev = v
	}
	return buf
}

func decodeDeltaInts(raw []byte) ([]int, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: boundary section too short", ErrCorruptArchive)
	}
	count := int(binary.LittleEndian.Uint32(raw))
	rest := raw[4:]
	// Every encoded delta takes at least one byte.
	if count > len(rest) {
		return nil, fmt.Errorf("%w: boundary count %d exceeds payload", ErrCorruptArchive, count)
	}

	values := make([]int, count)
	prev := uint64(0)
	for i := range values {
		delta, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: boundary section truncated", ErrCorruptArchive)
		}
		rest = rest[n:]
		prev += delta
		if prev > maxSectionBytes {
			return nil, fmt.Errorf("%w: boundary value too large: %d", ErrCorruptArchive, prev)
		}
		values[i] = int(prev)
	}
	return values, nil
}

func decodeDeltaU32s(raw []byte) ([]uint32, error) {
	values, err := decodeDeltaInts(raw)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(values))
	for i, v := range values {
		out[i] = uint32(v)
	}
	return out, nil
}
