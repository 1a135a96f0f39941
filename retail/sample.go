/*
sample.go - Deterministic demo data

PURPOSE:
  Generates raw records shaped like the public retail dataset so the server
  can run without the CSV files (-demo) and tests can build datasets with
  known properties (history length, holidays, departments per week).

DETERMINISM:
  No randomness. Noise is a fixed mix of sinusoids, so the same
  SampleStore always yields identical records.
*/
package retail

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// SampleStore describes one generated store.
type SampleStore struct {
	ID    StoreID
	Type  string
	Size  int
	Start time.Time // first week; defaults to 2010-02-05
	Weeks int       // defaults to 143
	Base  float64   // mean weekly sales per department; defaults to 20000
	Depts int       // sales rows per week; defaults to 1
}

// Holiday weeks of the public dataset: Super Bowl, Labor Day, Thanksgiving
// and Christmas, keyed by ISO week.
var sampleHolidayWeeks = map[int]bool{6: true, 36: true, 47: true, 52: true}

// DefaultSample returns five stores spanning the public dataset's date range.
func DefaultSample() *Raw {
	return Sample(
		SampleStore{ID: 1, Type: "A", Size: 151315, Base: 21000, Depts: 3},
		SampleStore{ID: 2, Type: "A", Size: 202307, Base: 26000, Depts: 3},
		SampleStore{ID: 3, Type: "B", Size: 37392, Base: 6000, Depts: 2},
		SampleStore{ID: 4, Type: "A", Size: 205863, Base: 29000, Depts: 3},
		SampleStore{ID: 5, Type: "B", Size: 34875, Base: 5000, Depts: 2},
	)
}

// Sample generates sales, features and store records for the given stores.
func Sample(stores ...SampleStore) *Raw {
	raw := &Raw{}
	for _, s := range stores {
		s = s.withDefaults()
		raw.Stores = append(raw.Stores, StoreRecord{StoreID: s.ID, Type: s.Type, Size: s.Size})

		for w := 0; w < s.Weeks; w++ {
			date := s.Start.AddDate(0, 0, 7*w)
			holiday := IsSampleHoliday(date)
			raw.Features = append(raw.Features, sampleFeature(s.ID, date, w, holiday))
			for d := 1; d <= s.Depts; d++ {
				raw.Sales = append(raw.Sales, SalesRecord{
					StoreID:     s.ID,
					Dept:        d,
					Date:        date,
					WeeklySales: decimal.NewFromFloat(sampleSales(s, d, w, date, holiday)).Round(2),
					IsHoliday:   holiday,
				})
			}
		}
	}
	return raw
}

// IsSampleHoliday reports whether date falls in a generated holiday week.
func IsSampleHoliday(date time.Time) bool {
	_, week := date.ISOWeek()
	return sampleHolidayWeeks[week]
}

func (s SampleStore) withDefaults() SampleStore {
	if s.Start.IsZero() {
		s.Start = time.Date(2010, time.February, 5, 0, 0, 0, 0, time.UTC)
	}
	if s.Weeks == 0 {
		s.Weeks = 143
	}
	if s.Base == 0 {
		s.Base = 20000
	}
	if s.Depts == 0 {
		s.Depts = 1
	}
	if s.Type == "" {
		s.Type = "A"
	}
	if s.Size == 0 {
		s.Size = 100000
	}
	return s
}

func sampleSales(s SampleStore, dept, week int, date time.Time, holiday bool) float64 {
	yearFrac := float64(date.YearDay()) / 365.25
	v := s.Base * (1 + 0.002*float64(week))
	v += 0.15 * s.Base * math.Sin(2*math.Pi*yearFrac)
	v += 0.03 * s.Base * math.Sin(float64(week*7+dept*13+int(s.ID)))
	if holiday {
		v *= 1.25
	}
	return v / float64(dept)
}

func sampleFeature(id StoreID, date time.Time, week int, holiday bool) FeatureRecord {
	f := FeatureRecord{
		StoreID:      id,
		Date:         date,
		Temperature:  60 + 25*math.Sin(2*math.Pi*(float64(date.YearDay())/365.25-0.3)),
		FuelPrice:    2.5 + 0.01*float64(week%100),
		CPI:          211 + 0.05*float64(week),
		Unemployment: 8.1 - 0.005*float64(week),
		IsHoliday:    holiday,
	}
	for i := range f.MarkDown {
		// Markdowns start in November 2011 in the public dataset.
		if date.Before(time.Date(2011, time.November, 1, 0, 0, 0, 0, time.UTC)) {
			f.MarkDown[i] = math.NaN()
		} else {
			f.MarkDown[i] = float64(1000 * (i + 1))
		}
	}
	return f
}
