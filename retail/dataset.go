/*
dataset.go - Immutable, per-store view of the merged and split data

PURPOSE:
  Built once at startup and shared read-only by every request. Replaces
  process-wide tables with an explicit value injected into the HTTP layer.

CONCURRENCY:
  No locks. Nothing mutates a Dataset after NewDataset returns, and accessors hand
  out slices that callers must treat as read-only.

USAGE:
  raw, err := retail.LoadDir("./data", retail.DefaultFiles())
  ds, err := retail.NewDataset(raw, retail.DefaultCutoff)
  train, err := ds.Train(20)
*/
package retail

import (
	"sort"
	"time"
)

// StoreSummary describes one store for selectors and listings.
type StoreSummary struct {
	ID             StoreID
	Type           string
	Size           int
	Observations   int
	TrainRows      int
	ValidationRows int
	FirstDate      time.Time
	LastDate       time.Time
}

type storeData struct {
	meta    StoreRecord
	history []Observation
	split   Split
}

// Dataset is the loaded, merged and split data.
type Dataset struct {
	cutoff time.Time
	report MergeReport
	ids    []StoreID
	stores map[StoreID]*storeData
}

// NewDataset merges raw and splits every store's history at cutoff.
func NewDataset(raw *Raw, cutoff time.Time) (*Dataset, error) {
	obs, report := Merge(raw)
	if len(obs) == 0 {
		return nil, ErrEmptyDataset
	}
	ds := &Dataset{
		cutoff: truncateDay(cutoff),
		report: report,
		stores: make(map[StoreID]*storeData),
	}

	// Store listing follows the stores file, like the selector in the
	// original dashboard; stores with no merged rows are still listed.
	for _, s := range raw.Stores {
		if _, ok := ds.stores[s.StoreID]; ok {
			continue
		}
		ds.stores[s.StoreID] = &storeData{meta: s}
		ds.ids = append(ds.ids, s.StoreID)
	}

	start := 0
	for i := 1; i <= len(obs); i++ {
		if i < len(obs) && obs[i].StoreID == obs[start].StoreID {
			continue
		}
		id := obs[start].StoreID
		sd, ok := ds.stores[id]
		if !ok {
			sd = &storeData{meta: StoreRecord{StoreID: id}}
			ds.stores[id] = sd
			ds.ids = append(ds.ids, id)
		}
		sd.history = obs[start:i:i]
		start = i
	}

	sort.Slice(ds.ids, func(i, j int) bool { return ds.ids[i] < ds.ids[j] })
	for _, sd := range ds.stores {
		sd.split = SplitAt(sd.history, ds.cutoff)
	}
	return ds, nil
}

// Cutoff returns the train/validation boundary.
func (d *Dataset) Cutoff() time.Time { return d.cutoff }

// Report returns the merge statistics.
func (d *Dataset) Report() MergeReport { return d.report }

// Stores returns the distinct store ids in ascending order.
func (d *Dataset) Stores() []StoreID {
	out := make([]StoreID, len(d.ids))
	copy(out, d.ids)
	return out
}

// DefaultStore is the first store, preselected in the dashboard.
func (d *Dataset) DefaultStore() StoreID {
	if len(d.ids) == 0 {
		return 0
	}
	return d.ids[0]
}

// Has reports whether id is a known store.
func (d *Dataset) Has(id StoreID) bool {
	_, ok := d.stores[id]
	return ok
}

func (d *Dataset) store(id StoreID) (*storeData, error) {
	sd, ok := d.stores[id]
	if !ok {
		return nil, &StoreNotFoundError{StoreID: id}
	}
	return sd, nil
}

// History returns every observation of a store (train ∪ validation).
func (d *Dataset) History(id StoreID) ([]Observation, error) {
	sd, err := d.store(id)
	if err != nil {
		return nil, err
	}
	return sd.history, nil
}

// Train returns the store's observations before the cutoff.
func (d *Dataset) Train(id StoreID) ([]Observation, error) {
	sd, err := d.store(id)
	if err != nil {
		return nil, err
	}
	return sd.split.Train, nil
}

// Validation returns the store's observations on or after the cutoff.
func (d *Dataset) Validation(id StoreID) ([]Observation, error) {
	sd, err := d.store(id)
	if err != nil {
		return nil, err
	}
	return sd.split.Validation, nil
}

// Summary describes a store.
func (d *Dataset) Summary(id StoreID) (StoreSummary, error) {
	sd, err := d.store(id)
	if err != nil {
		return StoreSummary{}, err
	}
	first, last := DateRange(sd.history)
	return StoreSummary{
		ID:             id,
		Type:           sd.meta.Type,
		Size:           sd.meta.Size,
		Observations:   len(sd.history),
		TrainRows:      len(sd.split.Train),
		ValidationRows: len(sd.split.Validation),
		FirstDate:      first,
		LastDate:       last,
	}, nil
}

// Summaries describes every store in id order.
func (d *Dataset) Summaries() []StoreSummary {
	out := make([]StoreSummary, 0, len(d.ids))
	for _, id := range d.ids {
		s, _ := d.Summary(id)
		out = append(out, s)
	}
	return out
}
