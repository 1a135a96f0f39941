/*
loader.go - CSV ingestion for the sales, features and stores files

PURPOSE:
  Reads the three source files into typed records. Parsing is delegated to
  gota dataframes with explicit column types; this file only checks the
  required columns exist and converts columns into record slices.

FAILURE POLICY:
  Loading is all-or-nothing. The first missing file, missing column,
  malformed number, bad holiday flag or unparseable date aborts the load with
  a *LoadError naming file, row and column. There is no per-row recovery.

COLUMNS:
  sales:    Store, [Dept], Date, Weekly_Sales, IsHoliday
  features: Store, Date, Temperature, Fuel_Price, CPI, Unemployment,
            IsHoliday, MarkDown1..MarkDown5
  stores:   Store, Type, Size

SEE ALSO:
  - merge.go: Consumes the records produced here
*/
package retail

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/shopspring/decimal"
)

// Files names the three CSV inputs relative to a data directory.
type Files struct {
	Sales    string
	Features string
	Stores   string
}

// DefaultFiles returns the file names used by the public retail dataset.
func DefaultFiles() Files {
	return Files{
		Sales:    "sales data-set.csv",
		Features: "Features data set.csv",
		Stores:   "stores data-set.csv",
	}
}

// Raw holds the unmerged records of the three files.
type Raw struct {
	Sales    []SalesRecord
	Features []FeatureRecord
	Stores   []StoreRecord
}

// LoadDir opens and parses the three files under dir.
func LoadDir(dir string, files Files) (*Raw, error) {
	var raw Raw
	var err error

	if raw.Sales, err = readFile(filepath.Join(dir, files.Sales), ReadSales); err != nil {
		return nil, err
	}
	if raw.Features, err = readFile(filepath.Join(dir, files.Features), ReadFeatures); err != nil {
		return nil, err
	}
	if raw.Stores, err = readFile(filepath.Join(dir, files.Stores), ReadStores); err != nil {
		return nil, err
	}
	return &raw, nil
}

// Load parses the three files from readers, e.g. uploaded or embedded data.
func Load(sales, features, stores io.Reader) (*Raw, error) {
	var raw Raw
	var err error

	if raw.Sales, err = ReadSales(sales, "sales"); err != nil {
		return nil, err
	}
	if raw.Features, err = ReadFeatures(features, "features"); err != nil {
		return nil, err
	}
	if raw.Stores, err = ReadStores(stores, "stores"); err != nil {
		return nil, err
	}
	return &raw, nil
}

func readFile[T any](path string, read func(io.Reader, string) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{File: path, Err: err}
	}
	defer f.Close()
	return read(f, path)
}

// =============================================================================
// PER-FILE READERS
// =============================================================================

// ReadSales parses the sales file. name is only used in error messages.
func ReadSales(r io.Reader, name string) ([]SalesRecord, error) {
	df, err := readFrame(r, name, map[string]series.Type{
		"Store":        series.Int,
		"Dept":         series.Int,
		"Date":         series.String,
		"Weekly_Sales": series.String,
		"IsHoliday":    series.Bool,
	}, "Store", "Date", "Weekly_Sales", "IsHoliday")
	if err != nil {
		return nil, err
	}

	c := columns{df: df, file: name}
	stores := c.ints("Store")
	dates := c.dates("Date")
	sales := c.decimals("Weekly_Sales")
	holidays := c.bools("IsHoliday")
	var depts []int
	if hasColumn(df, "Dept") {
		depts = c.ints("Dept")
	}
	if c.err != nil {
		return nil, c.err
	}

	out := make([]SalesRecord, df.Nrow())
	for i := range out {
		out[i] = SalesRecord{
			StoreID:     StoreID(stores[i]),
			Date:        dates[i],
			WeeklySales: sales[i],
			IsHoliday:   holidays[i],
		}
		if depts != nil {
			out[i].Dept = depts[i]
		}
	}
	return out, nil
}

// ReadFeatures parses the features file. NA values in numeric columns load
// as NaN.
func ReadFeatures(r io.Reader, name string) ([]FeatureRecord, error) {
	types := map[string]series.Type{
		"Store":        series.Int,
		"Date":         series.String,
		"Temperature":  series.String,
		"Fuel_Price":   series.String,
		"CPI":          series.String,
		"Unemployment": series.String,
		"IsHoliday":    series.Bool,
	}
	required := []string{"Store", "Date", "Temperature", "Fuel_Price", "CPI", "Unemployment", "IsHoliday"}
	for i := 1; i <= MarkdownCount; i++ {
		col := markdownColumn(i)
		types[col] = series.String
		required = append(required, col)
	}

	df, err := readFrame(r, name, types, required...)
	if err != nil {
		return nil, err
	}

	c := columns{df: df, file: name}
	stores := c.ints("Store")
	dates := c.dates("Date")
	holidays := c.bools("IsHoliday")
	temperature := c.floats("Temperature")
	fuel := c.floats("Fuel_Price")
	cpi := c.floats("CPI")
	unemployment := c.floats("Unemployment")
	var markdowns [MarkdownCount][]float64
	for i := range markdowns {
		markdowns[i] = c.floats(markdownColumn(i + 1))
	}
	if c.err != nil {
		return nil, c.err
	}

	out := make([]FeatureRecord, df.Nrow())
	for i := range out {
		rec := FeatureRecord{
			StoreID:      StoreID(stores[i]),
			Date:         dates[i],
			Temperature:  temperature[i],
			FuelPrice:    fuel[i],
			CPI:          cpi[i],
			Unemployment: unemployment[i],
			IsHoliday:    holidays[i],
		}
		for m := range markdowns {
			rec.MarkDown[m] = markdowns[m][i]
		}
		out[i] = rec
	}
	return out, nil
}

// ReadStores parses the stores file.
func ReadStores(r io.Reader, name string) ([]StoreRecord, error) {
	df, err := readFrame(r, name, map[string]series.Type{
		"Store": series.Int,
		"Type":  series.String,
		"Size":  series.Int,
	}, "Store", "Type", "Size")
	if err != nil {
		return nil, err
	}

	c := columns{df: df, file: name}
	stores := c.ints("Store")
	sizes := c.ints("Size")
	kinds := df.Col("Type").Records()
	if c.err != nil {
		return nil, c.err
	}

	out := make([]StoreRecord, df.Nrow())
	for i := range out {
		out[i] = StoreRecord{
			StoreID: StoreID(stores[i]),
			Type:    kinds[i],
			Size:    sizes[i],
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func markdownColumn(n int) string {
	return fmt.Sprintf("MarkDown%d", n)
}

func readFrame(r io.Reader, name string, types map[string]series.Type, required ...string) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithTypes(types),
	)
	if df.Err != nil {
		return df, &LoadError{File: name, Err: fmt.Errorf("%w: %v", ErrMalformedInput, df.Err)}
	}
	for _, col := range required {
		if !hasColumn(df, col) {
			return df, &LoadError{File: name, Column: col, Err: ErrMissingColumn}
		}
	}
	return df, nil
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// columns converts dataframe columns and keeps the first error, so readers
// can convert every column and check once.
type columns struct {
	df   dataframe.DataFrame
	file string
	err  error
}

func (c *columns) fail(row int, col string, err error) {
	if c.err == nil {
		c.err = &LoadError{File: c.file, Row: row + 1, Column: col, Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}
}

func (c *columns) ints(col string) []int {
	if c.err != nil {
		return nil
	}
	s := c.df.Col(col)
	out := make([]int, s.Len())
	for i := range out {
		v, err := s.Elem(i).Int()
		if err != nil {
			c.fail(i, col, fmt.Errorf("not an integer"))
			return nil
		}
		out[i] = v
	}
	return out
}

func (c *columns) bools(col string) []bool {
	if c.err != nil {
		return nil
	}
	s := c.df.Col(col)
	out := make([]bool, s.Len())
	for i := range out {
		v, err := s.Elem(i).Bool()
		if err != nil {
			c.fail(i, col, fmt.Errorf("not a boolean"))
			return nil
		}
		out[i] = v
	}
	return out
}

func (c *columns) dates(col string) []time.Time {
	if c.err != nil {
		return nil
	}
	raw := c.df.Col(col).Records()
	out := make([]time.Time, len(raw))
	for i, v := range raw {
		t, err := ParseDate(v)
		if err != nil {
			c.fail(i, col, err)
			return nil
		}
		out[i] = t
	}
	return out
}

func (c *columns) decimals(col string) []decimal.Decimal {
	if c.err != nil {
		return nil
	}
	raw := c.df.Col(col).Records()
	out := make([]decimal.Decimal, len(raw))
	for i, v := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			c.fail(i, col, fmt.Errorf("not a number: %q", v))
			return nil
		}
		out[i] = d
	}
	return out
}

// floats reads a numeric column that may hold missing values. Only the NA
// tokens load as NaN; any other unparseable value fails the load.
func (c *columns) floats(col string) []float64 {
	if c.err != nil {
		return nil
	}
	raw := c.df.Col(col).Records()
	out := make([]float64, len(raw))
	for i, v := range raw {
		v = strings.TrimSpace(v)
		if isNA(v) {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			c.fail(i, col, fmt.Errorf("not a number: %q", v))
			return nil
		}
		out[i] = f
	}
	return out
}

// isNA reports whether v is a missing-value token. gota renders NA cells of
// string columns as "NaN".
func isNA(v string) bool {
	switch v {
	case "", "NA", "NaN":
		return true
	}
	return false
}

// ParseDate parses a DD/MM/YYYY date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want DD/MM/YYYY)", s)
	}
	return t, nil
}
