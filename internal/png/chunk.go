// Package png reads, repairs and rewrites PNG files at the chunk level. It
// keeps damaged chunks around, annotated with what is wrong with them, so a
// broken file can be inspected and fixed by hand.
package png

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
)

// Signature is the eight-byte PNG file header.
var Signature = []byte("\x89PNG\r\n\x1a\n")

// Issues attached to chunks that did not decode cleanly.
const (
	IssueWrongLength = "Wrong length"
	IssueEOF         = "End of file"
	IssueWrongCRC    = "Wrong CRC"
	IssueWrongType   = "Wrong type"
)

// Chunk types used by the editing helpers.
const (
	TypeIHDR = "IHDR"
	TypeIDAT = "IDAT"
	TypeIEND = "IEND"
	TypePHYs = "pHYs"
)

// KnownTypes describes every chunk type the decoder accepts without a
// "Wrong type" issue.
var KnownTypes = map[string]string{
	"IHDR": "Image header",
	"PLTE": "Palette",
	"IDAT": "Image data",
	"IEND": "Image trailer",
	"eXIf": "Exif data",
	"cHRM": "Primary chromaticities",
	"gAMA": "Image gamma",
	"iCCP": "Embedded ICC profile",
	"sBIT": "Significant bits",
	"sRGB": "Standard RGB color space",
	"bKGD": "Background color",
	"hIST": "Image histogram",
	"tRNS": "Transparency",
	"pHYs": "Physical pixel dimensions",
	"sPLT": "Suggested palette",
	"tIME": "Image last-modification time",
	"iTXt": "International textual data",
	"tEXt": "Textual data",
	"zTXt": "Compressed textual data",
}

// Chunk is a PNG chunk as found on disk. Length and CRC are the stored
// values and may disagree with Data.
type Chunk struct {
	Length uint32
	Type   string
	Data   []byte
	CRC    []byte
	Issues []string
}

// ComputeCRC returns the big-endian CRC-32 of a chunk type and its data.
func ComputeCRC(typ string, data []byte) []byte {
	h := crc32.NewIEEE()
	h.Write([]byte(typ))
	h.Write(data)
	return h.Sum(nil)
}

// CRCValid reports whether the stored CRC matches the type and data.
func (c Chunk) CRCValid() bool {
	return bytes.Equal(c.CRC, ComputeCRC(c.Type, c.Data))
}

// Known reports whether the chunk type is a registered PNG chunk type.
func (c Chunk) Known() bool {
	_, ok := KnownTypes[c.Type]
	return ok
}

// TypeName returns the chunk type, or "????" for unregistered types.
func (c Chunk) TypeName() string {
	if c.Known() {
		return c.Type
	}
	return "????"
}

// CRCHex returns the stored CRC as lowercase hex.
func (c Chunk) CRCHex() string {
	return hex.EncodeToString(c.CRC)
}

// Preview returns the data, shortened to five bytes and "..." when longer
// than ten bytes.
func (c Chunk) Preview() []byte {
	if len(c.Data) > 10 {
		return append(append([]byte{}, c.Data[:5]...), "..."...)
	}
	return c.Data
}

// Bytes returns the chunk's on-disk encoding using its stored length and CRC.
func (c Chunk) Bytes() []byte {
	buf := make([]byte, 4, 4+len(c.Type)+len(c.Data)+len(c.CRC))
	binary.BigEndian.PutUint32(buf, c.Length)
	buf = append(buf, c.Type...)
	buf = append(buf, c.Data...)
	return append(buf, c.CRC...)
}

// HasIssue reports whether the chunk carries the given issue.
func (c Chunk) HasIssue(issue string) bool {
	for _, i := range c.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

// Indices returns every offset at which sep occurs in s, overlaps included.
func Indices(s, sep []byte) []int {
	var idxs []int
	if len(sep) == 0 {
		return idxs
	}
	for start := 0; start <= len(s)-len(sep); {
		i := bytes.Index(s[start:], sep)
		if i < 0 {
			break
		}
		idxs = append(idxs, start+i)
		start += i + 1
	}
	return idxs
}
