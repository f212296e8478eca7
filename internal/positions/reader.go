// Package positions reads marker, detail and spot coordinates from
// tabular position files, such as the measurement tables ImageJ writes
// when clicking on features.
//
// Files are plain text with one row per point. Comment rows (leading
// '#') and non-numeric header rows are skipped; data rows are numbered
// from 0 regardless of how many header rows precede them.
package positions

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/clem-data/clempick/internal/geom"
)

// DefaultXYColumns matches the ImageJ point-measurement layout: row
// index, label, X, Y.
var DefaultXYColumns = [2]int{2, 3}

// Range returns the data row indices [from, to), matching the row
// numbering convention of the source script files.
func Range(from, to int) []int {
	if to <= from {
		return nil
	}
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	return rows
}

// ReadFile reads the selected data rows from a position table file.
// rows selects data rows by index (nil means all rows); xy gives the
// X and Y column indices, counted from 0, with negative values counted
// from the end of the row.
func ReadFile(path string, rows []int, xy [2]int) (geom.Points, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open positions file: %w", err)
	}
	defer f.Close()

	pts, err := Read(f, rows, xy)
	if err != nil {
		return nil, fmt.Errorf("read positions from %s: %w", path, err)
	}
	return pts, nil
}

// Read parses a position table from r. See ReadFile for the row and
// column conventions.
func Read(r io.Reader, rows []int, xy [2]int) (geom.Points, error) {
	wanted := map[int]int{} // data row index -> output position
	for i, row := range rows {
		if row < 0 {
			return nil, fmt.Errorf("negative row index %d", row)
		}
		wanted[row] = i
	}

	var all geom.Points
	out := make(geom.Points, len(rows))
	found := 0
	dataRow := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		p, ok := parseRow(fields, xy)
		if !ok {
			// Header or otherwise non-numeric row; not counted.
			continue
		}
		if rows == nil {
			all = append(all, p)
		} else if pos, want := wanted[dataRow]; want {
			out[pos] = p
			found++
		}
		dataRow++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if rows == nil {
		return all, nil
	}
	if found != len(rows) {
		return nil, fmt.Errorf("only %d of %d requested rows present (file has %d data rows)", found, len(rows), dataRow)
	}
	return out, nil
}

func parseRow(fields []string, xy [2]int) (geom.Point, bool) {
	xi, ok := resolveColumn(xy[0], len(fields))
	if !ok {
		return geom.Point{}, false
	}
	yi, ok := resolveColumn(xy[1], len(fields))
	if !ok {
		return geom.Point{}, false
	}
	x, err := strconv.ParseFloat(fields[xi], 64)
	if err != nil {
		return geom.Point{}, false
	}
	y, err := strconv.ParseFloat(fields[yi], 64)
	if err != nil {
		return geom.Point{}, false
	}
	return geom.Point{X: x, Y: y}, true
}

func resolveColumn(idx, n int) (int, bool) {
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
