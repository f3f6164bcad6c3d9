// Package dataset loads, cleans and splits the tabular gemstone dataset.
//
// A Frame is a small column store: every column is either numeric (parsed to
// float64, empty cells become NaN) or categorical (kept as strings). Column
// kinds are inferred when the CSV is read.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrColumnNotFound   = errors.New("column not found")
	ErrNonNumericColumn = errors.New("column is not numeric")
	ErrEmptyDataset     = errors.New("dataset is empty")
)

// Kind is the inferred type of a column
type Kind int

const (
	Categorical Kind = iota
	Numeric
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

type column struct {
	name string
	kind Kind
	nums []float64
	strs []string
}

func (c *column) cell(i int) string {
	if c.kind == Numeric {
		v := c.nums[i]
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return c.strs[i]
}

// Frame is an in-memory table with typed columns
type Frame struct {
	cols  []*column
	index map[string]int
	rows  int
}

// NewFrame builds a frame from a header and string rows, inferring column kinds
func NewFrame(header []string, rows [][]string) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(header)), rows: len(rows)}
	for j, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := f.index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		raw := make([]string, len(rows))
		for i, row := range rows {
			if len(row) != len(header) {
				return nil, fmt.Errorf("row %d has %d fields, expected %d", i+1, len(row), len(header))
			}
			raw[i] = strings.TrimSpace(row[j])
		}
		f.index[name] = len(f.cols)
		f.cols = append(f.cols, inferColumn(name, raw))
	}
	return f, nil
}

func inferColumn(name string, raw []string) *column {
	nums := make([]float64, len(raw))
	seen := false
	for i, s := range raw {
		if s == "" {
			nums[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return &column{name: name, kind: Categorical, strs: raw}
		}
		nums[i] = v
		seen = true
	}
	if !seen {
		return &column{name: name, kind: Categorical, strs: raw}
	}
	return &column{name: name, kind: Numeric, nums: nums}
}

// Len returns the number of rows
func (f *Frame) Len() int { return f.rows }

// Columns returns the column names in order
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.name
	}
	return names
}

// Has reports whether the frame has the named column
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

func (f *Frame) column(name string) (*column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return f.cols[i], nil
}

// Kind returns the inferred kind of a column
func (f *Frame) Kind(name string) (Kind, error) {
	c, err := f.column(name)
	if err != nil {
		return 0, err
	}
	return c.kind, nil
}

// Float returns the values of a numeric column. The slice must not be modified.
func (f *Frame) Float(name string) ([]float64, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, err
	}
	if c.kind != Numeric {
		return nil, fmt.Errorf("%w: %s", ErrNonNumericColumn, name)
	}
	return c.nums, nil
}

// Strings returns the values of any column rendered as strings
func (f *Frame) Strings(name string) ([]string, error) {
	c, err := f.column(name)
	if err != nil {
		return nil, err
	}
	if c.kind == Categorical {
		return c.strs, nil
	}
	out := make([]string, f.rows)
	for i := range out {
		out[i] = c.cell(i)
	}
	return out, nil
}

// NumericColumns returns the names of numeric columns in order
func (f *Frame) NumericColumns() []string {
	var names []string
	for _, c := range f.cols {
		if c.kind == Numeric {
			names = append(names, c.name)
		}
	}
	return names
}

// Take returns a new frame holding the given rows in the given order
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{index: f.index, rows: len(rows), cols: make([]*column, len(f.cols))}
	for j, c := range f.cols {
		nc := &column{name: c.name, kind: c.kind}
		if c.kind == Numeric {
			nc.nums = make([]float64, len(rows))
			for i, r := range rows {
				nc.nums[i] = c.nums[r]
			}
		} else {
			nc.strs = make([]string, len(rows))
			for i, r := range rows {
				nc.strs[i] = c.strs[r]
			}
		}
		out.cols[j] = nc
	}
	return out
}

// Filter returns the rows for which keep returns true, preserving order
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	rows := make([]int, 0, f.rows)
	for i := 0; i < f.rows; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return f.Take(rows)
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := &Frame{index: make(map[string]int), rows: f.rows}
	for _, c := range f.cols {
		if skip[c.name] {
			continue
		}
		out.index[c.name] = len(out.cols)
		out.cols = append(out.cols, c)
	}
	return out
}

// DropDuplicates removes rows identical to an earlier row, keeping the first
func (f *Frame) DropDuplicates() *Frame {
	seen := make(map[string]struct{}, f.rows)
	var sb strings.Builder
	return f.Filter(func(i int) bool {
		sb.Reset()
		for _, c := range f.cols {
			sb.WriteString(c.cell(i))
			sb.WriteByte(0x1f)
		}
		key := sb.String()
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		return true
	})
}

// Row returns row i rendered as strings, in column order
func (f *Frame) Row(i int) []string {
	out := make([]string, len(f.cols))
	for j, c := range f.cols {
		out[j] = c.cell(i)
	}
	return out
}
