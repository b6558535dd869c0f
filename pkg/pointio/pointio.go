// Package pointio reads and writes point sets as delimited text files.
//
// The format is one point per line, coordinates separated by whitespace or
// commas, any fixed number of dimensions. Blank lines and lines starting
// with '#' are skipped. This covers the common XYZ/CSV exports of point
// cloud tooling without pulling in a binary format parser.
package pointio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ReadMatrix reads a point file into a dense matrix with one row per point.
// Every data line must have the same number of coordinates.
func ReadMatrix(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening point file: %w", err)
	}
	defer file.Close()

	var data []float64
	cols := 0
	line := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%s:%d: expected %d coordinates, got %d",
				path, line, cols, len(fields))
		}
		for _, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid coordinate %q: %w",
					path, line, field, err)
			}
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading point file: %w", err)
	}
	if cols == 0 {
		return nil, fmt.Errorf("%s: no points found", path)
	}
	return mat.NewDense(len(data)/cols, cols, data), nil
}

// WriteMatrix writes a point matrix to a file, one point per line with
// space-separated coordinates.
func WriteMatrix(path string, points *mat.Dense) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating point file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	rows, cols := points.Dims()
	for i := 0; i < rows; i++ {
		for d := 0; d < cols; d++ {
			if d > 0 {
				if _, err := writer.WriteString(" "); err != nil {
					return fmt.Errorf("error writing point file: %w", err)
				}
			}
			if _, err := writer.WriteString(strconv.FormatFloat(points.At(i, d), 'g', -1, 64)); err != nil {
				return fmt.Errorf("error writing point file: %w", err)
			}
		}
		if _, err := writer.WriteString("\n"); err != nil {
			return fmt.Errorf("error writing point file: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("error writing point file: %w", err)
	}
	return nil
}
