// Package pointsio reads and writes point-correspondence tables and transform
// matrices as whitespace-separated text.
package pointsio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

// numberFormat matches numpy's savetxt default and round-trips float64 exactly.
const numberFormat = "%.18e"

// ErrMismatchedSides is returned when left and right point lists differ in length.
var ErrMismatchedSides = errors.New("left and right point counts differ")

// ParseError describes a malformed line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// readRows returns the numeric rows of r, skipping blank lines and lines
// starting with '#'. Every row must have exactly cols fields.
func readRows(r io.Reader, cols int) ([][]float64, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != cols {
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("expected %d columns, got %d", cols, len(fields))}
		}
		row := make([]float64, cols)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("column %d: invalid number %q", i+1, f)}
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return rows, nil
}

func writeRow(w *bufio.Writer, vals ...float64) {
	for i, v := range vals {
		if i > 0 {
			w.WriteByte(' ')
		}
		fmt.Fprintf(w, numberFormat, v)
	}
	w.WriteByte('\n')
}

// ReadPoints parses an N x 4 table of "x1 y1 x2 y2" rows.
func ReadPoints(r io.Reader) (left, right []r2.Point, err error) {
	rows, err := readRows(r, 4)
	if err != nil {
		return nil, nil, err
	}
	left = make([]r2.Point, len(rows))
	right = make([]r2.Point, len(rows))
	for i, row := range rows {
		left[i] = r2.Point{X: row[0], Y: row[1]}
		right[i] = r2.Point{X: row[2], Y: row[3]}
	}
	return left, right, nil
}

// WritePoints writes index-aligned pairs as an N x 4 table.
func WritePoints(w io.Writer, left, right []r2.Point) error {
	if len(left) != len(right) {
		return fmt.Errorf("write points (%d vs %d): %w", len(left), len(right), ErrMismatchedSides)
	}
	bw := bufio.NewWriter(w)
	for i := range left {
		writeRow(bw, left[i].X, left[i].Y, right[i].X, right[i].Y)
	}
	return bw.Flush()
}

// ReadTransform parses a 3 x 3 matrix.
func ReadTransform(r io.Reader) (homography.Matrix, error) {
	rows, err := readRows(r, 3)
	if err != nil {
		return homography.Matrix{}, err
	}
	if len(rows) != 3 {
		return homography.Matrix{}, &ParseError{Line: len(rows), Msg: fmt.Sprintf("expected 3 rows, got %d", len(rows))}
	}
	var m [3][3]float64
	for i, row := range rows {
		copy(m[i][:], row)
	}
	return homography.FromRows(m), nil
}

// WriteTransform writes h as three rows.
func WriteTransform(w io.Writer, h homography.Matrix) error {
	bw := bufio.NewWriter(w)
	for _, row := range h.Rows() {
		writeRow(bw, row[0], row[1], row[2])
	}
	return bw.Flush()
}

// LoadPoints reads a points file from disk.
func LoadPoints(path string) (left, right []r2.Point, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open points file: %w", err)
	}
	defer func() { _ = f.Close() }()

	left, right, err = ReadPoints(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return left, right, nil
}

// SavePoints writes a points file to disk.
func SavePoints(path string, left, right []r2.Point) error {
	return writeFile(path, func(w io.Writer) error { return WritePoints(w, left, right) })
}

// LoadTransform reads a transform file from disk.
func LoadTransform(path string) (homography.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return homography.Matrix{}, fmt.Errorf("open transform file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h, err := ReadTransform(f)
	if err != nil {
		return homography.Matrix{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// SaveTransform writes a transform file to disk.
func SaveTransform(path string, h homography.Matrix) error {
	return writeFile(path, func(w io.Writer) error { return WriteTransform(w, h) })
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f)
}
