/*
merge.go - Join and aggregate raw records into Observations

PURPOSE:
  1. Inner join sales and features on (StoreID, Date)
  2. Inner join the result with stores on StoreID
  3. Aggregate by (StoreID, Date), summing numeric fields

JOIN SEMANTICS:
  Relational inner join: rows without a partner are dropped and duplicate
  partners multiply rows. Hash joins keep this linear in the input size.

AGGREGATION:
  WeeklySales is summed with decimal arithmetic. Float features skip NaN,
  so a key whose values are all missing sums to zero. HolidayRows sums the
  sales holiday flag; when a key folds more than one joined row (the public
  dataset has one sales row per department) it becomes a count. IsHoliday
  keeps the 0/1 meaning and is what the chart plots. MergeReport.FoldedKeys
  says whether that happened.
*/
package retail

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MergeReport summarises what the merge did to the raw rows.
type MergeReport struct {
	SalesRows     int `json:"sales_rows"`
	FeatureRows   int `json:"feature_rows"`
	StoreRows     int `json:"store_rows"`
	JoinedRows    int `json:"joined_rows"`
	UnmatchedRows int `json:"unmatched_sales_rows"`
	Observations  int `json:"observations"`
	FoldedKeys    int `json:"folded_keys"`
	Stores        int `json:"stores"`
}

// Merge joins and aggregates the raw records. The result is sorted by store
// then date.
func Merge(raw *Raw) ([]Observation, MergeReport) {
	report := MergeReport{
		SalesRows:   len(raw.Sales),
		FeatureRows: len(raw.Features),
		StoreRows:   len(raw.Stores),
	}

	features := make(map[key][]FeatureRecord, len(raw.Features))
	for _, f := range raw.Features {
		k := key{store: f.StoreID, date: f.Date}
		features[k] = append(features[k], f)
	}
	stores := make(map[StoreID][]StoreRecord, len(raw.Stores))
	for _, s := range raw.Stores {
		stores[s.StoreID] = append(stores[s.StoreID], s)
	}

	agg := make(map[key]*Observation)
	for _, sale := range raw.Sales {
		k := key{store: sale.StoreID, date: sale.Date}
		fs := features[k]
		ss := stores[sale.StoreID]
		if len(fs) == 0 || len(ss) == 0 {
			report.UnmatchedRows++
			continue
		}
		for _, f := range fs {
			for _, s := range ss {
				obs, ok := agg[k]
				if !ok {
					obs = &Observation{
						StoreID:     sale.StoreID,
						Date:        sale.Date,
						WeeklySales: decimal.Zero,
						Type:        s.Type,
					}
					agg[k] = obs
				}
				accumulate(obs, sale, f, s)
				report.JoinedRows++
			}
		}
	}

	out := make([]Observation, 0, len(agg))
	seen := make(map[StoreID]struct{})
	for _, obs := range agg {
		if obs.Rows > 1 {
			report.FoldedKeys++
		}
		seen[obs.StoreID] = struct{}{}
		out = append(out, *obs)
	}
	sortObservations(out)

	report.Observations = len(out)
	report.Stores = len(seen)
	return out, report
}

func accumulate(obs *Observation, sale SalesRecord, f FeatureRecord, s StoreRecord) {
	obs.Rows++
	obs.WeeklySales = obs.WeeklySales.Add(sale.WeeklySales)
	if sale.IsHoliday {
		obs.HolidayRows++
		obs.IsHoliday = true
	}
	obs.Temperature += skipNaN(f.Temperature)
	obs.FuelPrice += skipNaN(f.FuelPrice)
	obs.CPI += skipNaN(f.CPI)
	obs.Unemployment += skipNaN(f.Unemployment)
	for i, m := range f.MarkDown {
		obs.MarkDown[i] += skipNaN(m)
	}
	obs.Size += s.Size
}

func skipNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func sortObservations(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].StoreID != obs[j].StoreID {
			return obs[i].StoreID < obs[j].StoreID
		}
		return obs[i].Date.Before(obs[j].Date)
	})
}

// DateRange returns the first and last date of date-sorted observations.
func DateRange(obs []Observation) (first, last time.Time) {
	if len(obs) == 0 {
		return time.Time{}, time.Time{}
	}
	return obs[0].Date, obs[len(obs)-1].Date
}
