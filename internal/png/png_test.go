package png

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	stdpng "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawChunk encodes a well-formed chunk independently of the package code.
func rawChunk(typ string, data []byte) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	buf = append(buf, typ...)
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(append([]byte(typ), data...)))
}

func gradient(w, h int, alpha bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha {
				a = uint8(40 + 30*x)
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 37), G: uint8(y * 51), B: uint8((x + y) * 13), A: a})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, stdpng.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBytes(t *testing.T, data []byte) []Chunk {
	t.Helper()
	chunks, err := Decode(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return chunks
}

func chunkTypes(chunks []Chunk) []string {
	types := make([]string, len(chunks))
	for i, c := range chunks {
		types[i] = c.Type
	}
	return types
}

func TestDecodeValidFile(t *testing.T) {
	chunks := decodeBytes(t, encodePNG(t, gradient(7, 5, true)))

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, TypeIHDR, chunks[0].Type)
	assert.Equal(t, TypeIEND, chunks[len(chunks)-1].Type)
	for i, c := range chunks {
		assert.Empty(t, c.Issues, "chunk %d", i)
		assert.True(t, c.CRCValid(), "chunk %d", i)
		assert.Equal(t, int(c.Length), len(c.Data), "chunk %d", i)
	}
}

func TestReadFile(t *testing.T) {
	data := encodePNG(t, gradient(4, 4, false))
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, data, 0644))

	chunks, size, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, TypeIHDR, chunks[0].Type)

	_, _, err = ReadFile(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestDecodeRejectsNonPNG(t *testing.T) {
	data := []byte("GIF89a not a png at all")
	_, err := Decode(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, ErrNotPNG)
}

func TestDecodeIssues(t *testing.T) {
	ihdr := NewIHDR(1, 1)

	badCRC := rawChunk("tEXt", []byte("Comment\x00hi"))
	badCRC[len(badCRC)-1] ^= 0xff

	var file []byte
	file = append(file, Signature...)
	file = append(file, ihdr.Bytes()...)
	file = append(file, badCRC...)
	file = append(file, rawChunk("zzZZ", []byte{1, 2, 3})...)
	file = append(file, rawChunk(TypeIEND, nil)...)

	chunks := decodeBytes(t, file)
	require.Len(t, chunks, 4)

	assert.Empty(t, chunks[0].Issues)
	assert.Equal(t, []string{IssueWrongCRC}, chunks[1].Issues)
	assert.Equal(t, []string{IssueWrongType}, chunks[2].Issues)
	assert.Equal(t, "????", chunks[2].TypeName())
	assert.Empty(t, chunks[3].Issues)
}

func TestDecodeTruncatedStopsAtEOF(t *testing.T) {
	var file []byte
	file = append(file, Signature...)
	file = append(file, NewIHDR(2, 2).Bytes()...)
	file = append(file, 0x00, 0x00)

	chunks := decodeBytes(t, file)
	require.Len(t, chunks, 1)
	assert.Equal(t, TypeIHDR, chunks[0].Type)
}

func TestDecodeRecoversTrailingIEND(t *testing.T) {
	payload := []byte("0123456789abcdef")
	payloadCRC := ComputeCRC(TypeIDAT, payload)

	var file []byte
	file = append(file, Signature...)
	file = append(file, NewIHDR(2, 2).Bytes()...)
	// An IDAT whose declared length runs far past the end of the file.
	file = binary.BigEndian.AppendUint32(file, 1_000_000)
	file = append(file, TypeIDAT...)
	file = append(file, payload...)
	file = append(file, payloadCRC...)
	file = append(file, rawChunk(TypeIEND, nil)...)

	chunks := decodeBytes(t, file)
	require.Equal(t, []string{TypeIHDR, TypeIDAT, TypeIEND}, chunkTypes(chunks))

	idat := chunks[1]
	assert.Equal(t, uint32(1_000_000), idat.Length)
	assert.Equal(t, payload, idat.Data)
	assert.Equal(t, payloadCRC, idat.CRC)
	assert.True(t, idat.HasIssue(IssueWrongLength))

	iend := chunks[2]
	assert.Equal(t, uint32(0), iend.Length)
	assert.Empty(t, iend.Issues)
	assert.True(t, iend.CRCValid())

	fixed := Fix(idat)
	assert.Equal(t, uint32(len(payload)), fixed.Length)
	assert.Empty(t, fixed.Issues)
	assert.True(t, fixed.CRCValid())
}

func TestDecodeDropsOversizedChunkWithoutIEND(t *testing.T) {
	var file []byte
	file = append(file, Signature...)
	file = append(file, NewIHDR(2, 2).Bytes()...)
	file = binary.BigEndian.AppendUint32(file, 500)
	file = append(file, TypeIDAT...)
	file = append(file, bytes.Repeat([]byte{0xaa}, 30)...)

	chunks := decodeBytes(t, file)
	assert.Equal(t, []string{TypeIHDR}, chunkTypes(chunks))
}

func TestReadBroken(t *testing.T) {
	first := encodePNG(t, gradient(3, 3, false))
	second := encodePNG(t, gradient(5, 2, true))

	var data []byte
	data = append(data, []byte("junk!")...)
	data = append(data, first...)
	data = append(data, second...)

	t.Run("first signature by default", func(t *testing.T) {
		broken, err := ReadBroken(data, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{5, 5 + len(first)}, broken.Signatures)
		assert.Equal(t, 5, broken.Offset)

		// The second file's signature reads as an oversized chunk; its IEND
		// is recovered after it.
		n := len(decodeBytes(t, first))
		require.Len(t, broken.Chunks, n+2)
		assert.Equal(t, TypeIEND, broken.Chunks[n+1].Type)
	})

	t.Run("explicit offset", func(t *testing.T) {
		broken, err := ReadBroken(data, 5+len(first))
		require.NoError(t, err)
		assert.Equal(t, decodeBytes(t, second), broken.Chunks)
	})

	t.Run("no signature", func(t *testing.T) {
		_, err := ReadBroken([]byte("nothing to see"), 0)
		assert.ErrorIs(t, err, ErrNoSignature)
	})

	t.Run("offset out of range", func(t *testing.T) {
		_, err := ReadBroken(data, len(data)+10)
		assert.Error(t, err)
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	data := encodePNG(t, gradient(6, 4, true))
	chunks := decodeBytes(t, data)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, chunks))
	assert.Equal(t, data, buf.Bytes())

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, WriteFile(path, chunks))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)

	// The rewritten file is still a PNG the standard decoder accepts.
	_, err = stdpng.Decode(bytes.NewReader(written))
	assert.NoError(t, err)
}

func TestNewChunks(t *testing.T) {
	iend := NewIEND()
	assert.Equal(t, []byte{0xae, 0x42, 0x60, 0x82}, iend.CRC)
	assert.Equal(t, rawChunk(TypeIEND, nil), iend.Bytes())

	ihdr := NewIHDR(640, 480)
	hdr, err := DecodeIHDR(ihdr.Data)
	require.NoError(t, err)
	assert.Equal(t, IHDR{Width: 640, Height: 480, BitDepth: 8, ColorType: ColorRGBA}, hdr)
	assert.Equal(t, rawChunk(TypeIHDR, ihdr.Data), ihdr.Bytes())
}

func TestFixUnknownType(t *testing.T) {
	c := Chunk{Length: 99, Type: "\x00\x01\x02\x03", Data: []byte("abc"), CRC: []byte{1, 2, 3, 4}, Issues: []string{IssueWrongType}}
	fixed := Fix(c)
	assert.Equal(t, TypeIDAT, fixed.Type)
	assert.Equal(t, uint32(3), fixed.Length)
	assert.True(t, fixed.CRCValid())
	assert.Nil(t, fixed.Issues)
}

func TestRemoveAndByType(t *testing.T) {
	chunks := []Chunk{
		NewIHDR(1, 1),
		{Type: "tEXt"},
		{Type: TypeIDAT, Data: []byte("ab")},
		{Type: "tEXt"},
		{Type: TypeIDAT, Data: []byte("cd")},
		NewIEND(),
	}

	assert.Equal(t, []string{TypeIHDR, TypeIDAT, TypeIDAT, TypeIEND}, chunkTypes(RemoveByType(chunks, "tEXt")))
	assert.Len(t, ByType(chunks, "tEXt"), 2)
	assert.Equal(t, []int{2, 4}, IndexesOf(chunks, TypeIDAT))
	assert.Equal(t, []byte("abcd"), IDATData(chunks))

	removed := RemoveByType(chunks, TypeIEND)
	removed = append(removed, NewIEND())
	assert.Len(t, removed, len(chunks))
	assert.Equal(t, TypeIEND, removed[len(removed)-1].Type)
}

func TestExtractSubChunks(t *testing.T) {
	first := rawChunk(TypeIDAT, []byte("hello world"))
	second := rawChunk(TypeIDAT, []byte("more pixels"))
	corrupt := rawChunk(TypeIDAT, []byte("bad one"))
	corrupt[len(corrupt)-1] ^= 0x55

	var data []byte
	data = append(data, []byte("leftover bytes")...)
	data = append(data, first...)
	data = append(data, corrupt...)
	data = append(data, second...)

	outer := Chunk{Length: uint32(len(data)), Type: TypeIDAT, Data: data, CRC: []byte{0, 0, 0, 0}}

	subs := ExtractSubChunks(outer)
	require.Len(t, subs, 2)
	assert.Equal(t, []byte("hello world"), subs[0].Data)
	assert.Equal(t, []byte("more pixels"), subs[1].Data)
	for _, s := range subs {
		assert.True(t, s.CRCValid())
		assert.Empty(t, s.Issues)
	}

	assert.Empty(t, ExtractSubChunks(Chunk{Type: "tEXt", Data: []byte("nothing"), CRC: []byte{0, 0, 0, 0}}))
}

func TestIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Indices([]byte("aaaa"), []byte("aa")))
	assert.Nil(t, Indices([]byte("abc"), []byte("zz")))
	assert.Nil(t, Indices([]byte("abc"), nil))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, []byte("short"), Chunk{Data: []byte("short")}.Preview())
	assert.Equal(t, []byte("01234..."), Chunk{Data: []byte("0123456789A")}.Preview())
	assert.Equal(t, "aabbccdd", Chunk{CRC: []byte{0xaa, 0xbb, 0xcc, 0xdd}}.CRCHex())
}

func TestDecodePHYs(t *testing.T) {
	data := []byte{0, 0, 0x0b, 0x12, 0, 0, 0x0b, 0x12, 1}
	p, err := DecodePHYs(data)
	require.NoError(t, err)
	assert.Equal(t, PHYs{X: 2834, Y: 2834, Unit: 1}, p)

	data[8] = 0
	p, err = DecodePHYs(data)
	require.NoError(t, err)
	assert.Equal(t, PHYs{X: DefaultPixelsPerMeter, Y: DefaultPixelsPerMeter}, p)

	_, err = DecodePHYs(data[:4])
	assert.Error(t, err)
}

func TestDecodeIHDRShort(t *testing.T) {
	_, err := DecodeIHDR([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecompress(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte("pixels pixels pixels"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out, err := Decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels pixels pixels"), out)

	_, err = Decompress([]byte("definitely not zlib"))
	assert.Error(t, err)

	_, err = Decompress(buf.Bytes()[:buf.Len()/2])
	assert.Error(t, err)
}

func TestDecompressedLength(t *testing.T) {
	n, err := DecompressedLength(200, 300, 8, ColorRGB)
	require.NoError(t, err)
	assert.Equal(t, 200*300*3+300, n)

	n, err = DecompressedLength(10, 2, 8, ColorRGBA)
	require.NoError(t, err)
	assert.Equal(t, (10*4+1)*2, n)

	_, err = DecompressedLength(1, 1, 8, ColorPalette)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestUnfilter(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"none", []byte{0, 10, 5, 0, 1, 1}, []byte{10, 5, 1, 1}},
		{"sub then up", []byte{1, 10, 5, 2, 1, 1}, []byte{10, 15, 11, 16}},
		{"average", []byte{1, 10, 5, 3, 4, 6}, []byte{10, 15, 9, 18}},
		{"paeth", []byte{1, 10, 5, 4, 1, 2}, []byte{10, 15, 11, 17}},
		{"wraps", []byte{1, 200, 100, 0, 0, 0}, []byte{200, 44, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unfilter(tt.data, 2, 2, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Unfilter([]byte{5, 1, 1, 0, 1, 1}, 2, 2, 1)
	assert.Error(t, err)

	_, err = Unfilter([]byte{0, 1}, 2, 2, 1)
	assert.Error(t, err)
}

func TestParseIDATMatchesStandardDecoder(t *testing.T) {
	for _, alpha := range []bool{false, true} {
		img := gradient(9, 7, alpha)
		chunks := decodeBytes(t, encodePNG(t, img))

		hdr, err := DecodeIHDR(chunks[0].Data)
		require.NoError(t, err)
		raw, err := Decompress(IDATData(chunks))
		require.NoError(t, err)

		want, err := DecompressedLength(hdr.Width, hdr.Height, hdr.BitDepth, hdr.ColorType)
		require.NoError(t, err)
		assert.Len(t, raw, want)

		pixels, err := ParseIDAT(raw, hdr)
		require.NoError(t, err)

		if alpha {
			assert.Equal(t, uint8(ColorRGBA), hdr.ColorType)
			assert.Equal(t, img.Pix, pixels)
		} else {
			assert.Equal(t, uint8(ColorRGB), hdr.ColorType)
			var rgb []byte
			for i := 0; i < len(img.Pix); i += 4 {
				rgb = append(rgb, img.Pix[i:i+3]...)
			}
			assert.Equal(t, rgb, pixels)
		}
	}
}

// interlace lays out pixels as Adam7 passes with filter type 0.
func interlace(pixels []byte, width, height, bpp int) []byte {
	var out []byte
	for _, p := range adam7 {
		for y := p[1]; y < height; y += p[3] {
			if p[0] >= width {
				break
			}
			out = append(out, 0)
			for x := p[0]; x < width; x += p[2] {
				off := (y*width + x) * bpp
				out = append(out, pixels[off:off+bpp]...)
			}
		}
	}
	return out
}

func TestDeinterlaceAdam7(t *testing.T) {
	const width, height, bpp = 11, 9, 3
	pixels := make([]byte, width*height*bpp)
	for i := range pixels {
		pixels[i] = byte(i * 7)
	}

	got, err := ParseIDAT(interlace(pixels, width, height, bpp), IHDR{
		Width: width, Height: height, BitDepth: 8, ColorType: ColorRGB, Interlace: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, pixels, got)

	// Images smaller than a pass skip it.
	small := []byte{1, 2, 3}
	got, err = DeinterlaceAdam7(interlace(small, 1, 1, 3), 1, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, small, got)

	_, err = DeinterlaceAdam7([]byte{0, 1}, width, height, bpp)
	assert.Error(t, err)
}

func TestParseIDATUnsupported(t *testing.T) {
	tests := []IHDR{
		{Width: 1, Height: 1, BitDepth: 16, ColorType: ColorRGB},
		{Width: 1, Height: 1, BitDepth: 8, ColorType: ColorGray},
		{Width: 1, Height: 1, BitDepth: 8, ColorType: ColorRGB, Interlace: 2},
	}
	for _, hdr := range tests {
		_, err := ParseIDAT([]byte{0, 0, 0, 0}, hdr)
		assert.ErrorIs(t, err, ErrUnsupported, "%+v", hdr)
	}
}
