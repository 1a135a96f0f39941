/*
additive.go - Additive trend + seasonality model

MODEL:
  y(t) = trend(t) + yearly(t) + weekly(t)

  trend:     k*t + m + sum_j delta_j * max(0, t - s_j)
             s_j are potential changepoints spread evenly over the first
             ChangepointRange of the history.
  seasonal:  Fourier series sum_k a_k sin(2*pi*k*d/P) + b_k cos(2*pi*k*d/P)
             on days d since the Unix epoch.

  Time is scaled to [0, 1] over the training span and y by its absolute
  maximum, so the penalties below are unit-free.

AUTO SEASONALITY:
  yearly:  enabled when the history spans at least two years
  weekly:  enabled when samples are closer than a week apart (weekly data
           cannot resolve a 7-day cycle)

FIT:
  Penalised least squares, solved through a Cholesky factorisation of
  (X'X + L) b = X'y. Penalties correspond to Gaussian priors with the
  configured prior scales against a nominal residual scale.

UNCERTAINTY:
  half-width = z * sqrt(sigma^2 + trend_sd(h)^2)
  sigma is the in-sample residual RMS. trend_sd grows with the horizon h
  past the end of history, assuming future changepoints arrive at the
  historical rate with the historical mean absolute size. z is the normal
  quantile for IntervalWidth. The result is deterministic.
*/
package forecast

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	yearlyPeriodDays = 365.25
	weeklyPeriodDays = 7.0

	// Residual variance, in scaled units, that the prior scales are
	// measured against.
	nominalNoiseVariance = 0.0025

	// Keeps the unpenalised trend columns positive definite.
	jitter = 1e-9

	// MinTrainRows is the smallest history Fit accepts.
	MinTrainRows = 2
)

// Additive is the default Model.
type Additive struct {
	opts Options

	// Set by Fit.
	fitted       bool
	start        time.Time
	tScale       float64
	yScale       float64
	changepoints []float64
	yearly       bool
	weekly       bool
	beta         []float64
	sigma        float64
	deltaMAD     float64
}

// NewAdditive returns an unfitted model.
func NewAdditive(opts Options) *Additive {
	return &Additive{opts: opts.withDefaults()}
}

// AdditiveFactory builds Additive models with the given options.
func AdditiveFactory(opts Options) ModelFactory {
	return func() Model { return NewAdditive(opts) }
}

// Fit estimates the model on (ds, y). ds need not be sorted.
func (a *Additive) Fit(ds []time.Time, y []float64) error {
	if len(ds) != len(y) {
		return ErrLengthMismatch
	}

	idx := make([]int, 0, len(ds))
	for i := range ds {
		if !math.IsNaN(y[i]) && !math.IsInf(y[i], 0) {
			idx = append(idx, i)
		}
	}
	if len(idx) < MinTrainRows {
		return &InsufficientHistoryError{Rows: len(idx), Required: MinTrainRows}
	}
	sort.SliceStable(idx, func(i, j int) bool { return ds[idx[i]].Before(ds[idx[j]]) })

	first, last := ds[idx[0]], ds[idx[len(idx)-1]]
	span := last.Sub(first)
	if span <= 0 {
		return &InsufficientHistoryError{Rows: 1, Required: MinTrainRows}
	}

	a.fitted = false
	a.start = first
	a.tScale = span.Seconds()
	a.yScale = 0
	for _, i := range idx {
		a.yScale = math.Max(a.yScale, math.Abs(y[i]))
	}
	if a.yScale == 0 {
		a.yScale = 1
	}

	t := make([]float64, len(idx))
	dates := make([]time.Time, len(idx))
	ys := make([]float64, len(idx))
	for k, i := range idx {
		dates[k] = ds[i]
		t[k] = a.scaleTime(ds[i])
		ys[k] = y[i] / a.yScale
	}

	a.changepoints = placeChangepoints(t, a.opts.Changepoints, a.opts.ChangepointRange)
	a.yearly = span >= 2*365*24*time.Hour
	a.weekly = minSpacing(dates) < 7*24*time.Hour && span >= 14*24*time.Hour

	x := a.design(dates, t)
	_, p := x.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	penalties := a.penalties()
	for j := 0; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+penalties[j])
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(ys), ys))

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return ErrFitFailed
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return errors.Join(ErrFitFailed, err)
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	sq := make([]float64, len(ys))
	for i := range ys {
		r := ys[i] - fitted.AtVec(i)
		sq[i] = r * r
	}

	a.beta = make([]float64, p)
	for j := range a.beta {
		a.beta[j] = beta.AtVec(j)
	}
	a.sigma = math.Sqrt(stat.Mean(sq, nil))
	a.deltaMAD = 0
	if n := len(a.changepoints); n > 0 {
		abs := make([]float64, n)
		for j := range abs {
			abs[j] = math.Abs(a.beta[2+j])
		}
		a.deltaMAD = stat.Mean(abs, nil)
	}
	a.fitted = true
	return nil
}

// Predict returns point forecasts with uncertainty bounds for ds.
func (a *Additive) Predict(ds []time.Time) ([]Point, error) {
	if !a.fitted {
		return nil, ErrNotFitted
	}
	if len(ds) == 0 {
		return []Point{}, nil
	}

	t := make([]float64, len(ds))
	for i, d := range ds {
		t[i] = a.scaleTime(d)
	}
	x := a.design(ds, t)

	var yhat mat.VecDense
	yhat.MulVec(x, mat.NewVecDense(len(a.beta), a.beta))

	z := distuv.UnitNormal.Quantile(0.5 + a.opts.IntervalWidth/2)
	rate := float64(len(a.changepoints))

	out := make([]Point, len(ds))
	for i, d := range ds {
		mean := yhat.AtVec(i) * a.yScale

		h := math.Max(0, t[i]-1)
		trendSD := a.deltaMAD * math.Sqrt(2*rate*h*h*h/3)
		half := z * math.Sqrt(a.sigma*a.sigma+trendSD*trendSD) * a.yScale

		out[i] = Point{Date: d, Mean: mean, Lower: mean - half, Upper: mean + half}
	}
	return out, nil
}

// =============================================================================
// DESIGN MATRIX
// =============================================================================

// Column layout: intercept, slope, changepoints, yearly pairs, weekly pairs.
func (a *Additive) design(dates []time.Time, t []float64) *mat.Dense {
	p := a.columns()
	data := make([]float64, 0, len(t)*p)
	for i, ti := range t {
		data = append(data, 1, ti)
		for _, s := range a.changepoints {
			data = append(data, math.Max(0, ti-s))
		}
		days := float64(dates[i].Unix()) / 86400
		if a.yearly {
			data = appendFourier(data, days, yearlyPeriodDays, a.opts.YearlyOrder)
		}
		if a.weekly {
			data = appendFourier(data, days, weeklyPeriodDays, a.opts.WeeklyOrder)
		}
	}
	return mat.NewDense(len(t), p, data)
}

func (a *Additive) columns() int {
	p := 2 + len(a.changepoints)
	if a.yearly {
		p += 2 * a.opts.YearlyOrder
	}
	if a.weekly {
		p += 2 * a.opts.WeeklyOrder
	}
	return p
}

func (a *Additive) penalties() []float64 {
	p := a.columns()
	out := make([]float64, p)
	out[0], out[1] = jitter, jitter
	cp := nominalNoiseVariance / (a.opts.ChangepointPriorScale * a.opts.ChangepointPriorScale)
	season := nominalNoiseVariance / (a.opts.SeasonalityPriorScale * a.opts.SeasonalityPriorScale)
	for j := 2; j < p; j++ {
		if j < 2+len(a.changepoints) {
			out[j] = cp
		} else {
			out[j] = season
		}
	}
	return out
}

func (a *Additive) scaleTime(d time.Time) float64 {
	return d.Sub(a.start).Seconds() / a.tScale
}

func appendFourier(data []float64, days, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		x := 2 * math.Pi * float64(k) * days / period
		data = append(data, math.Sin(x), math.Cos(x))
	}
	return data
}

// placeChangepoints spreads n changepoints over the first share of the
// sorted, scaled times, skipping the first sample.
func placeChangepoints(t []float64, n int, share float64) []float64 {
	hist := int(math.Floor(float64(len(t)) * share))
	if n > hist-1 {
		n = hist - 1
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, n)
	for j := 1; j <= n; j++ {
		i := int(math.Round(float64(j) * float64(hist-1) / float64(n)))
		out = append(out, t[i])
	}
	return out
}

func minSpacing(sorted []time.Time) time.Duration {
	minGap := time.Duration(math.MaxInt64)
	for i := 1; i < len(sorted); i++ {
		if gap := sorted[i].Sub(sorted[i-1]); gap > 0 && gap < minGap {
			minGap = gap
		}
	}
	return minGap
}
