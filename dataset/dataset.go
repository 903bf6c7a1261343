// Package dataset holds the tabular input of a training session: named,
// typed columns that are read-only once built.
package dataset

import (
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// ColumnType is the inferred type of a column.
type ColumnType int

const (
	Unknown ColumnType = iota
	Numeric
	Categorical
)

func (t ColumnType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// Column is a named column. Numeric columns use Floats with NaN as missing,
// categorical and unknown columns use Strings with "" as missing.
type Column struct {
	Name    string
	Type    ColumnType
	Floats  []float64
	Strings []string
}

// NewNumericColumn creates a numeric column. NaN marks a missing value.
func NewNumericColumn(name string, values []float64) Column {
	return Column{Name: name, Type: Numeric, Floats: append([]float64(nil), values...)}
}

// NewCategoricalColumn creates a categorical column. "" marks a missing value.
func NewCategoricalColumn(name string, values []string) Column {
	return Column{Name: name, Type: Categorical, Strings: append([]string(nil), values...)}
}

var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "NaN": {}, "nan": {}, "null": {}, "NULL": {}, "None": {},
}

// IsMissingToken reports whether a raw cell denotes a missing value.
func IsMissingToken(s string) bool {
	_, ok := missingTokens[strings.TrimSpace(s)]
	return ok
}

// InferColumn types a raw string column: numeric when every non-missing cell
// parses as a float, unknown when every cell is missing, categorical otherwise.
func InferColumn(name string, raw []string) Column {
	floats := make([]float64, len(raw))
	strs := make([]string, len(raw))
	present, numeric := 0, true
	for i, s := range raw {
		if IsMissingToken(s) {
			floats[i] = math.NaN()
			continue
		}
		present++
		strs[i] = strings.TrimSpace(s)
		if !numeric {
			continue
		}
		f, err := strconv.ParseFloat(strs[i], 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			numeric = false
			continue
		}
		floats[i] = f
	}
	switch {
	case present == 0:
		return Column{Name: name, Type: Unknown, Strings: strs}
	case numeric:
		return Column{Name: name, Type: Numeric, Floats: floats}
	default:
		return Column{Name: name, Type: Categorical, Strings: strs}
	}
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	if c.Type == Numeric {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// IsMissing reports whether row i is missing.
func (c Column) IsMissing(i int) bool {
	if c.Type == Numeric {
		return math.IsNaN(c.Floats[i])
	}
	return c.Strings[i] == ""
}

// HasMissing reports whether the column has any missing value.
func (c Column) HasMissing() bool {
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			return true
		}
	}
	return false
}

// Text returns row i rendered as a string. Missing values render as "".
func (c Column) Text(i int) string {
	if c.Type != Numeric {
		return c.Strings[i]
	}
	if math.IsNaN(c.Floats[i]) {
		return ""
	}
	return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
}

func (c Column) subset(rows []int) Column {
	out := Column{Name: c.Name, Type: c.Type}
	if c.Type == Numeric {
		out.Floats = make([]float64, len(rows))
		for i, r := range rows {
			out.Floats[i] = c.Floats[r]
		}
		return out
	}
	out.Strings = make([]string, len(rows))
	for i, r := range rows {
		out.Strings[i] = c.Strings[r]
	}
	return out
}

// Dataset is an ordered collection of equally long, uniquely named columns.
type Dataset struct {
	columns []Column
	index   map[string]int
	nRows   int
}

// New builds a Dataset. Columns must have equal lengths and unique names.
func New(columns ...Column) (*Dataset, error) {
	ds := &Dataset{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if c.Name == "" {
			return nil, errors.NewSchemaError(c.Name, "column name must not be empty")
		}
		if _, dup := ds.index[c.Name]; dup {
			return nil, errors.NewSchemaError(c.Name, "duplicate column name")
		}
		if i == 0 {
			ds.nRows = c.Len()
		} else if c.Len() != ds.nRows {
			return nil, errors.NewSchemaError(c.Name, "column length differs from the first column")
		}
		ds.index[c.Name] = i
		ds.columns = append(ds.columns, c)
	}
	return ds, nil
}

// FromRecords builds a Dataset from a header and string records, typing each
// column with InferColumn.
func FromRecords(header []string, records [][]string) (*Dataset, error) {
	cols := make([]Column, len(header))
	for j, name := range header {
		raw := make([]string, len(records))
		for i, rec := range records {
			if len(rec) != len(header) {
				return nil, errors.NewSchemaError(name, "record has a different number of fields than the header")
			}
			raw[i] = rec[j]
		}
		cols[j] = InferColumn(name, raw)
	}
	return New(cols...)
}

// NRows returns the number of rows.
func (d *Dataset) NRows() int { return d.nRows }

// NCols returns the number of columns.
func (d *Dataset) NCols() int { return len(d.columns) }

// Names returns the column names in order.
func (d *Dataset) Names() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns a column by name. The returned column shares storage with
// the dataset and must not be modified.
func (d *Dataset) Column(name string) (Column, error) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, errors.NewSchemaError(name, "column not found")
	}
	return d.columns[i], nil
}

// Select returns a new Dataset with the given rows in the given order.
func (d *Dataset) Select(rows []int) *Dataset {
	out := &Dataset{index: d.index, nRows: len(rows), columns: make([]Column, len(d.columns))}
	for i, c := range d.columns {
		out.columns[i] = c.subset(rows)
	}
	return out
}
