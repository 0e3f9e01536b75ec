package chambers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strconv"
)

const cellSize = 24

var (
	emptyCell = color.RGBA{250, 250, 250, 255}
	lowGreen  = color.RGBA{232, 245, 233, 255}
	highGreen = color.RGBA{27, 94, 32, 255}
)

// RenderPNG draws the heatmap as a grid of cells shaded from light to dark
// green by jar count. Empty cells stay near-white.
func RenderPNG(h Heatmap) ([]byte, error) {
	if h.MaxPosition > MaxIndex || len(h.Shelves) > len(Shelves) {
		return nil, fmt.Errorf("heatmap %dx%d exceeds %dx%d", len(h.Shelves), h.MaxPosition, len(Shelves), MaxIndex)
	}
	cols := h.MaxPosition
	if cols < 1 {
		cols = 1
	}
	rows := len(h.Shelves)
	if rows < 1 {
		rows = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, cols*cellSize, rows*cellSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	peak := h.Max()
	for r, values := range h.Values {
		for c, v := range values {
			x0, y0 := c*cellSize, r*cellSize
			rect := image.Rect(x0+1, y0+1, x0+cellSize-1, y0+cellSize-1)
			draw.Draw(img, rect, &image.Uniform{shade(v, peak)}, image.Point{}, draw.Src)
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shade(v, peak int) color.RGBA {
	if v <= 0 || peak <= 0 {
		return emptyCell
	}
	t := float64(v) / float64(peak)
	lerp := func(a, b uint8) uint8 { return uint8(float64(a) + (float64(b)-float64(a))*t) }
	return color.RGBA{lerp(lowGreen.R, highGreen.R), lerp(lowGreen.G, highGreen.G), lerp(lowGreen.B, highGreen.B), 255}
}

var detailHeader = []string{"shelf", "position", "barcode", "strain_code", "variety_name", "batch_lines", "medium_code", "total_jars", "nb_weeks"}

// WriteDetailCSV writes the chamber detail table.
func WriteDetailCSV(w io.Writer, detail []Placed) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return err
	}
	for _, r := range detail {
		weeks := ""
		if r.NbWeeks != nil {
			weeks = strconv.Itoa(*r.NbWeeks)
		}
		rec := []string{r.Shelf, strconv.Itoa(r.Index), r.Barcode, r.StrainCode, r.VarietyName, r.BatchLines, r.MediumCode, strconv.Itoa(r.TotalJars), weeks}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
