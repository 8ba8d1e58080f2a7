// Package heatmap converts the heatmap matrix written by compareMS2 -X into
// chart data: one row per precursor mass difference bin, one column per
// spectral similarity bin, values on a log scale.
package heatmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Axis ranges of the compareMS2 heatmap output.
const (
	XMin = -1.6
	XMax = 1.6
	YMin = 0.0
	YMax = 100.0
)

// ErrNoData is returned when the matrix has no non-zero row.
var ErrNoData = errors.New("heatmap matrix has no data")

// Cell is one heatmap value at column X and row Y. Value is the natural log
// of the count; nil marks empty cells.
type Cell struct {
	X     int      `json:"x"`
	Y     int      `json:"y"`
	Value *float64 `json:"value"`
}

// Chart is the converted heatmap.
type Chart struct {
	Title      string    `json:"title"`
	YAxisLabel string    `json:"y_axis_label"`
	XMin       float64   `json:"x_min"`
	XMax       float64   `json:"x_max"`
	XData      []float64 `json:"x_data"`
	YData      []int     `json:"y_data"`
	// RealYMin is the Y value of the first row kept after leading empty rows.
	RealYMin float64 `json:"real_y_min"`
	MaxValue float64 `json:"max_value"`
	Rows     int     `json:"rows"`
	Columns  int     `json:"columns"`
	Cells    []Cell  `json:"cells"`
}

// Convert reads a tab-separated heatmap matrix. Blank lines and leading rows
// of zeros are dropped; the column count of the first kept row sets the X axis.
func Convert(r io.Reader) (*Chart, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		items := strings.Split(line, "\t")
		row := make([]float64, len(items))
		for j, item := range items {
			row[j] = parseValue(item)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read heatmap: %w", err)
	}

	first := 0
	for first < len(rows) && allZero(rows[first]) {
		first++
	}
	if first == len(rows) {
		return nil, ErrNoData
	}

	c := &Chart{
		XMin:     XMin,
		XMax:     XMax,
		RealYMin: (YMax-YMin)*float64(first)/float64(len(rows)) + YMin,
		Columns:  len(rows[first]),
	}
	for j := range c.Columns {
		c.XData = append(c.XData, (XMax-XMin)*float64(j)/float64(c.Columns)+XMin)
	}

	for y, row := range rows[first:] {
		c.YData = append(c.YData, y)
		for x, v := range row {
			cell := Cell{X: x, Y: y}
			if lv := math.Log(v); !math.IsInf(lv, 0) && !math.IsNaN(lv) {
				cell.Value = &lv
				c.MaxValue = max(c.MaxValue, lv)
			}
			c.Cells = append(c.Cells, cell)
		}
	}
	c.Rows = len(c.YData)
	return c, nil
}

// ConvertFile converts a heatmap file.
func ConvertFile(path string) (*Chart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heatmap: %w", err)
	}
	defer f.Close()
	return Convert(f)
}

// parseValue reads a matrix entry. Empty entries count as zero and
// unparsable ones as NaN.
func parseValue(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func allZero(row []float64) bool {
	for _, v := range row {
		if v != 0 {
			return false
		}
	}
	return true
}

// Title names a comparison of the samples a and b; an empty b or b equal to
// a is a self comparison.
func Title(a, b string) string {
	if b == "" || a == b {
		return fmt.Sprintf("Self comparison (%s)", filepath.Base(a))
	}
	return fmt.Sprintf("Two dataset comparison (%s vs %s)", filepath.Base(a), filepath.Base(b))
}

// YAxisLabel names the similarity measure selected by specMetric.
func YAxisLabel(specMetric float64) string {
	if specMetric == 0 {
		return "MS2 similarity (dot product)"
	}
	return "MS2 similarity (spectral angle)"
}
