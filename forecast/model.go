/*
Package forecast fits per-store time-series models and predicts the
validation window.

MODEL CONTRACT:
  Model.Fit takes timestamps and target values. Model.Predict returns one
  Point per requested timestamp with Lower <= Mean <= Upper. Models are
  single-use: the Forecaster builds a fresh instance for every request and
  never keeps it.

DEFAULT MODEL:
  Additive: piecewise-linear trend + Fourier seasonality, fitted by
  penalised least squares. See additive.go.

SEE ALSO:
  - forecaster.go: Store-level entry point used by the HTTP layer
*/
package forecast

import "time"

// Point is one predicted date.
type Point struct {
	Date  time.Time `json:"date"`
	Mean  float64   `json:"mean"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

// Model is a univariate time-series model.
type Model interface {
	Fit(ds []time.Time, y []float64) error
	Predict(ds []time.Time) ([]Point, error)
}

// ModelFactory builds a fresh, unfitted model.
type ModelFactory func() Model

// Options configures the Additive model. Zero values take the defaults from
// DefaultOptions.
type Options struct {
	// Trend
	Changepoints          int     // potential changepoints (25)
	ChangepointRange      float64 // share of history holding changepoints (0.8)
	ChangepointPriorScale float64 // smaller means a stiffer trend (0.05)

	// Seasonality
	YearlyOrder           int     // Fourier order for the 365.25-day cycle (10)
	WeeklyOrder           int     // Fourier order for the 7-day cycle (3)
	SeasonalityPriorScale float64 // (10)

	// IntervalWidth is the coverage of [Lower, Upper] (0.8).
	IntervalWidth float64
}

// DefaultOptions mirrors the defaults of the usual additive forecasting tools.
func DefaultOptions() Options {
	return Options{
		Changepoints:          25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		YearlyOrder:           10,
		WeeklyOrder:           3,
		SeasonalityPriorScale: 10,
		IntervalWidth:         0.8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Changepoints == 0 {
		o.Changepoints = d.Changepoints
	}
	if o.ChangepointRange == 0 {
		o.ChangepointRange = d.ChangepointRange
	}
	if o.ChangepointPriorScale == 0 {
		o.ChangepointPriorScale = d.ChangepointPriorScale
	}
	if o.YearlyOrder == 0 {
		o.YearlyOrder = d.YearlyOrder
	}
	if o.WeeklyOrder == 0 {
		o.WeeklyOrder = d.WeeklyOrder
	}
	if o.SeasonalityPriorScale == 0 {
		o.SeasonalityPriorScale = d.SeasonalityPriorScale
	}
	if o.IntervalWidth == 0 {
		o.IntervalWidth = d.IntervalWidth
	}
	return o
}
