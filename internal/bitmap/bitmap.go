// Package bitmap writes raw pixel buffers as BMP and ASCII PPM images.
package bitmap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
)

// DefaultPixelsPerMeter is written when no resolution is known (96 dpi).
const DefaultPixelsPerMeter = 3780

// Image is a row-major pixel buffer of 8-bit RGB or RGBA samples.
type Image struct {
	Width         int
	Height        int
	BytesPerPixel int
	Pix           []byte
}

func (img Image) validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", img.Width, img.Height)
	}
	if img.BytesPerPixel != 3 && img.BytesPerPixel != 4 {
		return fmt.Errorf("unsupported pixel size %d", img.BytesPerPixel)
	}
	if need := img.Width * img.Height * img.BytesPerPixel; len(img.Pix) < need {
		return fmt.Errorf("pixel data is %d bytes, want %d", len(img.Pix), need)
	}
	return nil
}

// Resolution is in pixels per meter. Zero values use DefaultPixelsPerMeter.
type Resolution struct {
	X uint32
	Y uint32
}

type fileHeader struct {
	Magic    [2]byte
	Size     uint32
	Reserved uint32
	Offset   uint32
}

type infoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	ImageSize     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ColorsUsed    uint32
	ColorsImp     uint32
}

const headersSize = 14 + 40

// WriteBMP encodes img as an uncompressed bottom-up BMP with 24-bit BGR or
// 32-bit BGRA pixels.
func WriteBMP(w io.Writer, img Image, res Resolution) error {
	if err := img.validate(); err != nil {
		return err
	}
	if res.X == 0 {
		res.X = DefaultPixelsPerMeter
	}
	if res.Y == 0 {
		res.Y = DefaultPixelsPerMeter
	}

	bpp := img.BytesPerPixel
	stride := (img.Width*bpp + 3) &^ 3
	imageSize := stride * img.Height

	hdr := struct {
		fileHeader
		infoHeader
	}{
		fileHeader{
			Magic:  [2]byte{'B', 'M'},
			Size:   uint32(headersSize + imageSize),
			Offset: headersSize,
		},
		infoHeader{
			Size:          40,
			Width:         int32(img.Width),
			Height:        int32(img.Height),
			Planes:        1,
			BitCount:      uint16(bpp * 8),
			ImageSize:     uint32(imageSize),
			XPelsPerMeter: int32(res.X),
			YPelsPerMeter: int32(res.Y),
		},
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write bmp header: %w", err)
	}

	row := make([]byte, stride)
	for y := img.Height - 1; y >= 0; y-- {
		src := img.Pix[y*img.Width*bpp : (y+1)*img.Width*bpp]
		for x := 0; x < img.Width; x++ {
			p := src[x*bpp : x*bpp+bpp]
			d := row[x*bpp : x*bpp+bpp]
			d[0], d[1], d[2] = p[2], p[1], p[0]
			if bpp == 4 {
				d[3] = p[3]
			}
		}
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("write bmp row: %w", err)
		}
	}
	return nil
}

// WritePPM encodes img as an ASCII (P3) PPM. Alpha is dropped.
func WritePPM(w io.Writer, img Image) error {
	if err := img.validate(); err != nil {
		return err
	}

	pix := img.Pix[:img.Width*img.Height*img.BytesPerPixel]
	if img.BytesPerPixel == 4 {
		pix = RGBAToRGB(pix)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "P3\n%d %d\n255\n", img.Width, img.Height)

	line := make([]byte, 0, 12)
	for i := 0; i+2 < len(pix); i += 3 {
		line = strconv.AppendUint(line[:0], uint64(pix[i]), 10)
		line = append(line, ' ')
		line = strconv.AppendUint(line, uint64(pix[i+1]), 10)
		line = append(line, ' ')
		line = strconv.AppendUint(line, uint64(pix[i+2]), 10)
		line = append(line, '\n')
		bw.Write(line)
	}
	bw.WriteByte('\n')
	return bw.Flush()
}

// RGBAToRGB drops the alpha sample of every pixel.
func RGBAToRGB(pix []byte) []byte {
	out := make([]byte, 0, len(pix)/4*3)
	for i := 0; i+3 < len(pix); i += 4 {
		out = append(out, pix[i], pix[i+1], pix[i+2])
	}
	return out
}

// WriteBMPFile writes img to path as a BMP.
func WriteBMPFile(path string, img Image, res Resolution) error {
	return writeFile(path, func(w io.Writer) error { return WriteBMP(w, img, res) })
}

// WritePPMFile writes img to path as an ASCII PPM.
func WritePPMFile(path string, img Image) error {
	return writeFile(path, func(w io.Writer) error { return WritePPM(w, img) })
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
