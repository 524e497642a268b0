package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Color types.
const (
	ColorGray      = 0
	ColorRGB       = 2
	ColorPalette   = 3
	ColorGrayAlpha = 4
	ColorRGBA      = 6
)

// ErrUnsupported is returned for pixel formats ParseIDAT cannot decode.
var ErrUnsupported = errors.New("unsupported pixel format")

// DefaultPixelsPerMeter is used when pHYs does not specify a unit.
const DefaultPixelsPerMeter = 2835

// IHDR is the decoded image header.
type IHDR struct {
	Width       uint32
	Height      uint32
	BitDepth    uint8
	ColorType   uint8
	Compression uint8
	Filter      uint8
	Interlace   uint8
}

// DecodeIHDR decodes IHDR chunk data.
func DecodeIHDR(data []byte) (IHDR, error) {
	if len(data) < 13 {
		return IHDR{}, fmt.Errorf("IHDR data is %d bytes, want 13", len(data))
	}
	return IHDR{
		Width:       binary.BigEndian.Uint32(data[0:4]),
		Height:      binary.BigEndian.Uint32(data[4:8]),
		BitDepth:    data[8],
		ColorType:   data[9],
		Compression: data[10],
		Filter:      data[11],
		Interlace:   data[12],
	}, nil
}

// PHYs is the decoded physical pixel dimensions chunk.
type PHYs struct {
	X    uint32
	Y    uint32
	Unit uint8
}

// DecodePHYs decodes pHYs chunk data. When the unit is unspecified, both axes
// fall back to DefaultPixelsPerMeter.
func DecodePHYs(data []byte) (PHYs, error) {
	if len(data) < 9 {
		return PHYs{}, fmt.Errorf("pHYs data is %d bytes, want 9", len(data))
	}
	p := PHYs{
		X:    binary.BigEndian.Uint32(data[0:4]),
		Y:    binary.BigEndian.Uint32(data[4:8]),
		Unit: data[8],
	}
	if p.Unit == 0 {
		p.X = DefaultPixelsPerMeter
		p.Y = DefaultPixelsPerMeter
	}
	return p, nil
}

// Decompress inflates a zlib stream such as the concatenated IDAT data.
func Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// BytesPerPixel returns the byte width of an 8-bit pixel of colorType.
func BytesPerPixel(colorType uint8) (int, error) {
	switch colorType {
	case ColorRGB:
		return 3, nil
	case ColorRGBA:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: color type %d", ErrUnsupported, colorType)
}

// DecompressedLength is the size of the filtered, non-interlaced image data
// including one filter byte per scanline.
func DecompressedLength(width, height uint32, bitDepth, colorType uint8) (int, error) {
	var samples int
	switch colorType {
	case ColorRGB:
		samples = 3
	case ColorRGBA:
		samples = 4
	default:
		return 0, fmt.Errorf("%w: color type %d", ErrUnsupported, colorType)
	}
	bpp := int(bitDepth) * samples / 8
	return (int(width)*bpp + 1) * int(height), nil
}

func paeth(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Unfilter reverses the per-scanline filters of height rows of width pixels
// of bpp bytes each.
func Unfilter(data []byte, width, height, bpp int) ([]byte, error) {
	stride := width * bpp
	if need := (stride + 1) * height; len(data) < need {
		return nil, fmt.Errorf("image data is %d bytes, want %d", len(data), need)
	}

	out := make([]byte, stride*height)
	prev := make([]byte, stride)
	offset := 0

	for y := 0; y < height; y++ {
		filter := data[offset]
		offset++
		line := out[y*stride : (y+1)*stride]
		copy(line, data[offset:offset+stride])
		offset += stride

		switch filter {
		case 0:
		case 1:
			for i := bpp; i < stride; i++ {
				line[i] += line[i-bpp]
			}
		case 2:
			for i := range line {
				line[i] += prev[i]
			}
		case 3:
			for i := range line {
				left := 0
				if i >= bpp {
					left = int(line[i-bpp])
				}
				line[i] += byte((left + int(prev[i])) / 2)
			}
		case 4:
			for i := range line {
				a, c := 0, 0
				if i >= bpp {
					a = int(line[i-bpp])
					c = int(prev[i-bpp])
				}
				line[i] += byte(paeth(a, int(prev[i]), c))
			}
		default:
			return nil, fmt.Errorf("unknown filter type %d on row %d", filter, y)
		}

		prev = line
	}

	return out, nil
}

// adam7 lists the interlace passes as x start, y start, x step, y step.
var adam7 = [7][4]int{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// DeinterlaceAdam7 unfilters each Adam7 pass and scatters its pixels into a
// width by height image.
func DeinterlaceAdam7(data []byte, width, height, bpp int) ([]byte, error) {
	img := make([]byte, width*height*bpp)
	offset := 0

	for n, p := range adam7 {
		xStart, yStart, xStep, yStep := p[0], p[1], p[2], p[3]
		passWidth := (width - xStart + xStep - 1) / xStep
		passHeight := (height - yStart + yStep - 1) / yStep
		if passWidth <= 0 || passHeight <= 0 {
			continue
		}

		size := (passWidth*bpp + 1) * passHeight
		if offset+size > len(data) {
			return nil, fmt.Errorf("pass %d: image data truncated", n+1)
		}
		pass, err := Unfilter(data[offset:offset+size], passWidth, passHeight, bpp)
		if err != nil {
			return nil, fmt.Errorf("pass %d: %w", n+1, err)
		}
		offset += size

		i := 0
		for y := 0; y < passHeight; y++ {
			for x := 0; x < passWidth; x++ {
				dst := ((yStart+y*yStep)*width + xStart + x*xStep) * bpp
				copy(img[dst:dst+bpp], pass[i:i+bpp])
				i += bpp
			}
		}
	}

	return img, nil
}

// ParseIDAT turns decompressed IDAT data into raw pixels, row-major with no
// filter bytes. Only 8-bit RGB and RGBA are supported.
func ParseIDAT(data []byte, hdr IHDR) ([]byte, error) {
	if hdr.BitDepth != 8 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrUnsupported, hdr.BitDepth)
	}
	bpp, err := BytesPerPixel(hdr.ColorType)
	if err != nil {
		return nil, err
	}

	switch hdr.Interlace {
	case 0:
		return Unfilter(data, int(hdr.Width), int(hdr.Height), bpp)
	case 1:
		return DeinterlaceAdam7(data, int(hdr.Width), int(hdr.Height), bpp)
	}
	return nil, fmt.Errorf("%w: interlace method %d", ErrUnsupported, hdr.Interlace)
}
