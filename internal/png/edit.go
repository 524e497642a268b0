package png

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Encode writes the signature followed by every chunk as stored.
func Encode(w io.Writer, chunks []Chunk) error {
	if _, err := w.Write(Signature); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := w.Write(c.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile encodes chunks into path.
func WriteFile(path string, chunks []Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := Encode(bw, chunks); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Fix makes a chunk self-consistent: the length is taken from the data, an
// unregistered type becomes IDAT, the CRC is recomputed and issues cleared.
func Fix(c Chunk) Chunk {
	c.Length = uint32(len(c.Data))
	if !c.Known() {
		c.Type = TypeIDAT
	}
	c.CRC = ComputeCRC(c.Type, c.Data)
	c.Issues = nil
	return c
}

// NewIHDR builds an IHDR for an 8-bit RGBA, non-interlaced image.
func NewIHDR(width, height uint32) Chunk {
	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], width)
	binary.BigEndian.PutUint32(data[4:8], height)
	data[8] = 8
	data[9] = ColorRGBA
	return Chunk{
		Length: uint32(len(data)),
		Type:   TypeIHDR,
		Data:   data,
		CRC:    ComputeCRC(TypeIHDR, data),
	}
}

// NewIEND builds an empty image trailer.
func NewIEND() Chunk {
	return Chunk{
		Type: TypeIEND,
		Data: []byte{},
		CRC:  ComputeCRC(TypeIEND, nil),
	}
}

// RemoveByType returns the chunks whose type differs from typ.
func RemoveByType(chunks []Chunk, typ string) []Chunk {
	kept := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Type != typ {
			kept = append(kept, c)
		}
	}
	return kept
}

// ByType returns the chunks of type typ.
func ByType(chunks []Chunk, typ string) []Chunk {
	var found []Chunk
	for _, c := range chunks {
		if c.Type == typ {
			found = append(found, c)
		}
	}
	return found
}

// IndexesOf returns the positions of chunks of type typ.
func IndexesOf(chunks []Chunk, typ string) []int {
	var idxs []int
	for i, c := range chunks {
		if c.Type == typ {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// IDATData concatenates the data of every IDAT chunk.
func IDATData(chunks []Chunk) []byte {
	var data []byte
	for _, c := range chunks {
		if c.Type == TypeIDAT {
			data = append(data, c.Data...)
		}
	}
	return data
}

// ExtractSubChunks scans a chunk's encoding for embedded IDAT chunks and
// returns those whose length fits and whose CRC matches. It recovers image
// data hidden behind a chunk whose declared length swallowed its successors.
func ExtractSubChunks(c Chunk) []Chunk {
	raw := c.Bytes()
	var found []Chunk

	for _, i := range Indices(raw, []byte(TypeIDAT)) {
		if i < 4 {
			continue
		}
		length := binary.BigEndian.Uint32(raw[i-4 : i])
		if length == 0 {
			continue
		}
		dataStart := i + len(TypeIDAT)
		crcStart := dataStart + int(length)
		if crcStart+4 > len(raw) {
			continue
		}

		data := raw[dataStart:crcStart]
		crc := raw[crcStart : crcStart+4]
		sub := Chunk{
			Length: length,
			Type:   TypeIDAT,
			Data:   append([]byte{}, data...),
			CRC:    append([]byte{}, crc...),
		}
		if !sub.CRCValid() {
			continue
		}
		found = append(found, sub)
	}

	return found
}
