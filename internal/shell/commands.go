package shell

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"pngtools/internal/bitmap"
	"pngtools/internal/png"
)

// newRoot builds the command tree for one line. A fresh tree per line keeps
// flag state from leaking between commands.
func (c *CLI) newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "pngtools",
		Short:         "Inspect and repair PNG files chunk by chunk",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetIn(c.in)

	root.AddCommand(
		&cobra.Command{
			Use:   "read_file <filename>",
			Short: "Read a PNG file",
			Args:  cobra.ExactArgs(1),
			RunE:  c.readFile,
		},
		&cobra.Command{
			Use:   "read_broken_file <filename> [offset]",
			Short: "Scan a damaged file for PNG signatures and read from one",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  c.readBrokenFile,
		},
		&cobra.Command{
			Use:   "show_chunks",
			Short: "Show the chunks",
			Args:  cobra.NoArgs,
			RunE:  c.showChunks,
		},
		&cobra.Command{
			Use:   "write_png <filename>",
			Short: "Write the chunks to a PNG file",
			Args:  cobra.ExactArgs(1),
			RunE:  c.writePNG,
		},
		&cobra.Command{
			Use:   "delete_chunk <index>",
			Short: "Delete a chunk",
			Args:  cobra.ExactArgs(1),
			RunE:  c.deleteChunk,
		},
		&cobra.Command{
			Use:   "fix_chunk <index>",
			Short: "Recompute a chunk's length and CRC",
			Args:  cobra.ExactArgs(1),
			RunE:  c.fixChunk,
		},
		&cobra.Command{
			Use:   "show_data <index>",
			Short: "Show the data of a chunk",
			Args:  cobra.ExactArgs(1),
			RunE:  c.showData,
		},
		&cobra.Command{
			Use:   "show_data_uncompressed <index>",
			Short: "Show the decompressed data of a chunk",
			Args:  cobra.ExactArgs(1),
			RunE:  c.showDataUncompressed,
		},
		&cobra.Command{
			Use:   "extract_sub_chunk <index>",
			Short: "Replace a chunk with the IDAT chunks hidden inside it",
			Args:  cobra.ExactArgs(1),
			RunE:  c.extractSubChunk,
		},
		&cobra.Command{
			Use:   "replace_ihdr <width> <height>",
			Short: "Replace the first chunk with an 8-bit RGBA IHDR",
			Args:  cobra.ExactArgs(2),
			RunE:  c.replaceIHDR,
		},
		&cobra.Command{
			Use:   "remove_by_type <type>",
			Short: "Remove every chunk of a type",
			Args:  cobra.ExactArgs(1),
			RunE:  c.removeByType,
		},
		&cobra.Command{
			Use:   "show_ihdr",
			Short: "Decode the IHDR chunks",
			Args:  cobra.NoArgs,
			RunE:  c.showIHDR,
		},
		&cobra.Command{
			Use:   "show_phys",
			Short: "Decode the pHYs chunks",
			Args:  cobra.NoArgs,
			RunE:  c.showPHYs,
		},
		&cobra.Command{
			Use:   "add_iend",
			Short: "Append an IEND chunk",
			Args:  cobra.NoArgs,
			RunE:  c.addIEND,
		},
		&cobra.Command{
			Use:   "acropalypse",
			Short: "Recover image data left behind a premature IEND",
			Args:  cobra.NoArgs,
			RunE:  c.acropalypse,
		},
		&cobra.Command{
			Use:   "create_bmp <filename>",
			Short: "Decode the image data and write it as a BMP",
			Args:  cobra.ExactArgs(1),
			RunE:  c.createBMP,
		},
		&cobra.Command{
			Use:   "create_ppm <filename>",
			Short: "Decode the image data and write it as an ASCII PPM",
			Args:  cobra.ExactArgs(1),
			RunE:  c.createPPM,
		},
		&cobra.Command{
			Use:   "history",
			Short: "Show the command history",
			Args:  cobra.NoArgs,
			RunE:  c.showHistory,
		},
		&cobra.Command{
			Use:     "exit [code]",
			Aliases: []string{"quit"},
			Short:   "Exit the program",
			Args:    cobra.MaximumNArgs(1),
			RunE:    c.exit,

			// Negative codes must not parse as flags.
			DisableFlagParsing: true,
		},
	)

	return root
}

// index parses and bounds-checks a chunk index, printing the problem when
// there is one.
func (c *CLI) index(arg string) (int, bool) {
	if len(c.chunks) == 0 {
		c.println("No chunks")
		return 0, false
	}
	i, err := strconv.Atoi(arg)
	if err != nil || i < 0 || i >= len(c.chunks) {
		c.println("Invalid index")
		return 0, false
	}
	return i, true
}

func (c *CLI) readFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	chunks, size, err := png.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.println("File does not exist")
		return nil
	}
	if err != nil {
		return err
	}

	c.printf("Reading (%d bytes)\n", size)
	c.chunks = chunks
	c.watchFile(path)
	return renderChunks(c.out, chunks, 0)
}

func (c *CLI) readBrokenFile(cmd *cobra.Command, args []string) error {
	offset := 0
	if len(args) == 2 {
		o, err := strconv.Atoi(args[1])
		if err != nil || o < 0 {
			return fmt.Errorf("invalid offset %q", args[1])
		}
		offset = o
	}

	broken, err := png.ReadBrokenFile(args[0], offset)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.println("File does not exist")
		return nil
	case errors.Is(err, png.ErrNoSignature):
		c.println("No PNG detected")
		return nil
	case err != nil:
		return err
	}

	c.printf("PNG signatures detected at %v\n", broken.Signatures)
	c.printf("Reading from offset %d\n", broken.Offset)
	c.chunks = broken.Chunks
	return renderChunks(c.out, broken.Chunks, 0)
}

func (c *CLI) showChunks(cmd *cobra.Command, args []string) error {
	if len(c.chunks) == 0 {
		c.println("No chunks to show")
		return nil
	}
	return renderChunks(c.out, c.chunks, 0)
}

func (c *CLI) writePNG(cmd *cobra.Command, args []string) error {
	if len(c.chunks) == 0 {
		c.println("No chunks to write")
		return nil
	}
	c.printf("----> Writing %s\n", args[0])
	if err := renderChunks(c.out, c.chunks, 0); err != nil {
		return err
	}
	return png.WriteFile(args[0], c.chunks)
}

func (c *CLI) deleteChunk(cmd *cobra.Command, args []string) error {
	i, ok := c.index(args[0])
	if !ok {
		return nil
	}
	c.chunks = append(c.chunks[:i], c.chunks[i+1:]...)
	return nil
}

func (c *CLI) fixChunk(cmd *cobra.Command, args []string) error {
	i, ok := c.index(args[0])
	if !ok {
		return nil
	}
	c.chunks[i] = png.Fix(c.chunks[i])
	return nil
}

func (c *CLI) showData(cmd *cobra.Command, args []string) error {
	i, ok := c.index(args[0])
	if !ok {
		return nil
	}
	fmt.Fprint(c.out, hex.Dump(c.chunks[i].Data))
	return nil
}

func (c *CLI) showDataUncompressed(cmd *cobra.Command, args []string) error {
	i, ok := c.index(args[0])
	if !ok {
		return nil
	}
	data, err := png.Decompress(c.chunks[i].Data)
	if err != nil {
		c.printf("Decompression error: %v\n", err)
		return nil
	}
	fmt.Fprint(c.out, hex.Dump(data))
	return nil
}

func (c *CLI) extractSubChunk(cmd *cobra.Command, args []string) error {
	i, ok := c.index(args[0])
	if !ok {
		return nil
	}
	return c.extractAt(i)
}

// extractAt replaces chunk i with the IDAT chunks embedded in it. The chunk
// is left alone when nothing valid is found.
func (c *CLI) extractAt(i int) error {
	found := png.ExtractSubChunks(c.chunks[i])
	if len(found) == 0 {
		c.println("No sub chunks found")
		return nil
	}

	c.println("Extracted chunks:")
	if err := renderChunks(c.out, found, i); err != nil {
		return err
	}

	chunks := make([]png.Chunk, 0, len(c.chunks)-1+len(found))
	chunks = append(chunks, c.chunks[:i]...)
	chunks = append(chunks, found...)
	c.chunks = append(chunks, c.chunks[i+1:]...)
	return nil
}

func (c *CLI) replaceIHDR(cmd *cobra.Command, args []string) error {
	width, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid width %q", args[0])
	}
	height, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid height %q", args[1])
	}
	if len(c.chunks) == 0 {
		c.println("No chunks")
		return nil
	}
	c.chunks[0] = png.NewIHDR(uint32(width), uint32(height))
	return nil
}

func (c *CLI) removeByType(cmd *cobra.Command, args []string) error {
	if len(c.chunks) == 0 {
		c.println("No chunks")
		return nil
	}
	c.chunks = png.RemoveByType(c.chunks, args[0])
	return nil
}

func (c *CLI) showIHDR(cmd *cobra.Command, args []string) error {
	for _, i := range png.IndexesOf(c.chunks, png.TypeIHDR) {
		hdr, err := png.DecodeIHDR(c.chunks[i].Data)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		renderIHDR(c.out, i, hdr)
	}
	return nil
}

func (c *CLI) showPHYs(cmd *cobra.Command, args []string) error {
	idxs := png.IndexesOf(c.chunks, png.TypePHYs)
	if len(idxs) == 0 {
		c.println("No pHYs chunk")
		return nil
	}
	for _, i := range idxs {
		p, err := png.DecodePHYs(c.chunks[i].Data)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		renderPHYs(c.out, i, p)
	}
	return nil
}

func (c *CLI) addIEND(cmd *cobra.Command, args []string) error {
	if len(c.chunks) == 0 {
		c.println("No chunks")
		return nil
	}
	c.chunks = append(c.chunks, png.NewIEND())
	return nil
}

func (c *CLI) acropalypse(cmd *cobra.Command, args []string) error {
	if len(png.IndexesOf(c.chunks, png.TypeIEND)) < 2 {
		c.println("Less than two IEND chunks, nothing to recover")
		return nil
	}

	c.println("More than one IEND chunk !")
	c.println("Removing all IEND chunks")
	c.chunks = png.RemoveByType(c.chunks, png.TypeIEND)
	if len(c.chunks) == 0 {
		return nil
	}

	last := len(c.chunks) - 1
	c.printf("Extracting data of last chunk (%d)\n", last)
	if err := c.extractAt(last); err != nil {
		return err
	}

	c.println("Final chunks:")
	return renderChunks(c.out, c.chunks, 0)
}

// pixels decodes the loaded image data for the bitmap writers.
func (c *CLI) pixels() (bitmap.Image, bitmap.Resolution, error) {
	var res bitmap.Resolution

	ihdrs := png.ByType(c.chunks, png.TypeIHDR)
	if len(ihdrs) == 0 {
		return bitmap.Image{}, res, errors.New("no IHDR chunk")
	}
	hdr, err := png.DecodeIHDR(ihdrs[0].Data)
	if err != nil {
		return bitmap.Image{}, res, err
	}

	raw, err := png.Decompress(png.IDATData(c.chunks))
	if err != nil {
		return bitmap.Image{}, res, err
	}
	pix, err := png.ParseIDAT(raw, hdr)
	if err != nil {
		return bitmap.Image{}, res, err
	}
	bpp, err := png.BytesPerPixel(hdr.ColorType)
	if err != nil {
		return bitmap.Image{}, res, err
	}

	if phys := png.ByType(c.chunks, png.TypePHYs); len(phys) > 0 {
		if p, err := png.DecodePHYs(phys[0].Data); err == nil {
			res = bitmap.Resolution{X: p.X, Y: p.Y}
		}
	}

	img := bitmap.Image{
		Width:         int(hdr.Width),
		Height:        int(hdr.Height),
		BytesPerPixel: bpp,
		Pix:           pix,
	}
	return img, res, nil
}

func (c *CLI) createBMP(cmd *cobra.Command, args []string) error {
	img, res, err := c.pixels()
	if err != nil {
		return err
	}
	c.printf("----> Writing %s (%dx%d)\n", args[0], img.Width, img.Height)
	return bitmap.WriteBMPFile(args[0], img, res)
}

func (c *CLI) createPPM(cmd *cobra.Command, args []string) error {
	img, _, err := c.pixels()
	if err != nil {
		return err
	}
	c.printf("----> Writing %s (%dx%d)\n", args[0], img.Width, img.Height)
	return bitmap.WritePPMFile(args[0], img)
}

func (c *CLI) showHistory(cmd *cobra.Command, args []string) error {
	for i, line := range c.history.Entries() {
		c.printf("%5d  %s\n", i+1, line)
	}
	return nil
}

func (c *CLI) exit(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		code, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid exit code %q", args[0])
		}
		c.exitCode = code
	}
	c.done = true
	return nil
}
