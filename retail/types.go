/*
types.go - Core record types for the retail dataset

PURPOSE:
  Defines the three raw record kinds read from CSV (sales, features, stores)
  and the merged Observation that every downstream component consumes.

KEY INVARIANT:
  After Merge, (StoreID, Date) is unique across observations.

SEE ALSO:
  - loader.go: Builds raw records from CSV
  - merge.go: Joins and aggregates raw records into Observations
  - split.go: Partitions Observations around the cutoff date
*/
package retail

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-disk date format (DD/MM/YYYY).
const DateLayout = "02/01/2006"

// MarkdownCount is the number of MarkDownN columns in the features file.
const MarkdownCount = 5

// StoreID identifies a retail location.
type StoreID int

func (id StoreID) String() string { return fmt.Sprintf("%d", int(id)) }

// =============================================================================
// RAW RECORDS
// =============================================================================

// SalesRecord is one row of the sales file. Dept is zero when the file has
// no department column.
type SalesRecord struct {
	StoreID     StoreID
	Dept        int
	Date        time.Time
	WeeklySales decimal.Decimal
	IsHoliday   bool
}

// FeatureRecord is one row of the features file. Missing values (NA) are
// stored as NaN.
type FeatureRecord struct {
	StoreID      StoreID
	Date         time.Time
	Temperature  float64
	FuelPrice    float64
	CPI          float64
	Unemployment float64
	IsHoliday    bool
	MarkDown     [MarkdownCount]float64
}

// StoreRecord is the static metadata for a store.
type StoreRecord struct {
	StoreID StoreID
	Type    string
	Size    int
}

// =============================================================================
// MERGED OBSERVATION
// =============================================================================

// Observation is the aggregate of every joined row sharing (StoreID, Date).
// Numeric fields are sums; missing feature values contribute nothing.
type Observation struct {
	StoreID StoreID
	Date    time.Time

	WeeklySales decimal.Decimal

	// HolidayRows counts joined rows flagged as a holiday week. It equals the
	// 0/1 flag only when Rows == 1.
	HolidayRows int
	IsHoliday   bool

	Temperature  float64
	FuelPrice    float64
	CPI          float64
	Unemployment float64
	MarkDown     [MarkdownCount]float64

	Type string
	Size int

	// Rows is how many joined rows were folded into this key.
	Rows int
}

// Sales returns the weekly sales as float64 for modelling and charting.
func (o Observation) Sales() float64 {
	f, _ := o.WeeklySales.Float64()
	return f
}

// HolidayFlag returns 1 for holiday weeks and 0 otherwise.
func (o Observation) HolidayFlag() float64 {
	if o.IsHoliday {
		return 1
	}
	return 0
}

type key struct {
	store StoreID
	date  time.Time
}

func (o Observation) key() key { return key{store: o.StoreID, date: o.Date} }
