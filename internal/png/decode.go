package png

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotPNG is returned when the input does not start with Signature.
	ErrNotPNG = errors.New("file is not a PNG")
	// ErrNoSignature is returned by ReadBroken when no signature is found.
	ErrNoSignature = errors.New("no PNG detected")
)

// ReadFile splits the PNG file at path into chunks.
func ReadFile(path string) ([]Chunk, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	chunks, err := Decode(bufio.NewReader(f), info.Size())
	return chunks, info.Size(), err
}

// Broken is the result of scanning a damaged file for embedded PNGs.
type Broken struct {
	// Signatures holds the offset of every PNG signature in the input.
	Signatures []int
	// Offset is the signature the chunks were decoded from.
	Offset int
	Chunks []Chunk
}

// ReadBroken locates every PNG signature in data and decodes the chunks that
// follow the one at offset. Offset zero selects the first signature.
func ReadBroken(data []byte, offset int) (*Broken, error) {
	idxs := Indices(data, Signature)
	if len(idxs) == 0 {
		return nil, ErrNoSignature
	}

	chosen := idxs[0]
	if offset != 0 {
		chosen = offset
	}
	if chosen < 0 || chosen >= len(data) {
		return nil, fmt.Errorf("offset %d outside file of %d bytes", chosen, len(data))
	}

	chunks, err := Decode(bytes.NewReader(data[chosen:]), int64(len(data)-chosen))
	if err != nil {
		return nil, err
	}
	return &Broken{Signatures: idxs, Offset: chosen, Chunks: chunks}, nil
}

// ReadBrokenFile is ReadBroken on the contents of path.
func ReadBrokenFile(path string, offset int) (*Broken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadBroken(data, offset)
}

// Decode splits a PNG stream of the given total size into chunks.
//
// A chunk whose declared length exceeds what is left of the stream is read up
// to the last twelve bytes. If those bytes end in an IEND chunk header, the
// chunk is kept with its data trimmed and the IEND is recovered after it;
// otherwise it is dropped. This is the layout left behind by truncating
// editors that overwrite a file in place.
func Decode(r io.Reader, size int64) ([]Chunk, error) {
	sig, err := readUpTo(r, len(Signature))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, Signature) {
		return nil, ErrNotPNG
	}

	remaining := size - int64(len(Signature))
	var chunks []Chunk

	for remaining > 0 {
		c, err := readChunk(r, remaining)
		if err != nil {
			return chunks, err
		}
		if c.HasIssue(IssueEOF) {
			break
		}
		remaining -= int64(c.Length) + 4 + int64(len(c.Type)) + int64(len(c.CRC))

		if !c.HasIssue(IssueWrongLength) {
			chunks = append(chunks, c)
			continue
		}

		if n := len(c.Data); n >= 12 && string(c.Data[n-4:]) == TypeIEND {
			iendLength := binary.BigEndian.Uint32(c.Data[n-8 : n-4])
			iend := Chunk{
				Length: iendLength,
				Type:   TypeIEND,
				Data:   []byte{},
				CRC:    c.CRC,
			}
			if iendLength > 0 {
				iend.Issues = []string{IssueWrongLength}
			}

			c.CRC = c.Data[n-12 : n-8]
			c.Data = c.Data[:n-12]
			chunks = append(chunks, c, iend)
		}
	}

	return chunks, nil
}

func readChunk(r io.Reader, remaining int64) (Chunk, error) {
	var c Chunk

	header, err := readUpTo(r, 4)
	if err != nil {
		return c, err
	}
	if len(header) < 4 {
		c.Issues = append(c.Issues, IssueEOF)
		return c, nil
	}
	c.Length = binary.BigEndian.Uint32(header)

	toRead := int64(c.Length)
	if toRead > remaining {
		toRead = max(remaining-3*4, 0)
		c.Issues = append(c.Issues, IssueWrongLength)
	}

	typ, err := readUpTo(r, 4)
	if err != nil {
		return c, err
	}
	c.Type = string(typ)
	if !c.Known() {
		c.Issues = append(c.Issues, IssueWrongType)
	}

	if c.Data, err = readUpTo(r, int(toRead)); err != nil {
		return c, err
	}
	if c.CRC, err = readUpTo(r, 4); err != nil {
		return c, err
	}
	if !c.CRCValid() {
		c.Issues = append(c.Issues, IssueWrongCRC)
	}
	return c, nil
}

// readUpTo reads n bytes, or fewer if the stream ends first.
func readUpTo(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:read], nil
}
