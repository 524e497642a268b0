package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"pngtools/internal/png"
)

// renderChunks prints chunks as a table, numbering them from start.
func renderChunks(w io.Writer, chunks []png.Chunk, start int) error {
	if len(chunks) == 0 {
		return nil
	}

	table := tablewriter.NewTable(w)
	table.Header([]string{"#", "Length", "Type", "Description", "CRC", "Valid", "Data", "Issues"})

	rows := make([][]string, 0, len(chunks))
	for i, c := range chunks {
		rows = append(rows, []string{
			strconv.Itoa(start + i),
			strconv.FormatUint(uint64(c.Length), 10),
			c.TypeName(),
			png.KnownTypes[c.Type],
			c.CRCHex(),
			strconv.FormatBool(c.CRCValid()),
			fmt.Sprintf("%q", c.Preview()),
			strings.Join(c.Issues, ", "),
		})
	}

	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func renderIHDR(w io.Writer, index int, hdr png.IHDR) {
	fmt.Fprintf(w, "IHDR chunk (index %d):\n", index)
	fmt.Fprintf(w, "Width: %d\n", hdr.Width)
	fmt.Fprintf(w, "Height: %d\n", hdr.Height)
	fmt.Fprintf(w, "Bit depth: %d\n", hdr.BitDepth)
	fmt.Fprintf(w, "Color type: %d\n", hdr.ColorType)
	fmt.Fprintf(w, "Compression method: %d\n", hdr.Compression)
	fmt.Fprintf(w, "Filter method: %d\n", hdr.Filter)
	fmt.Fprintf(w, "Interlace method: %d\n", hdr.Interlace)
}

func renderPHYs(w io.Writer, index int, p png.PHYs) {
	unit := "unspecified"
	if p.Unit == 1 {
		unit = "meter"
	}
	fmt.Fprintf(w, "pHYs chunk (index %d):\n", index)
	fmt.Fprintf(w, "Pixels per unit, X axis: %d\n", p.X)
	fmt.Fprintf(w, "Pixels per unit, Y axis: %d\n", p.Y)
	fmt.Fprintf(w, "Unit: %d (%s)\n", p.Unit, unit)
}
