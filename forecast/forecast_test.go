package forecast_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
)

func weekly(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, 7*i)
	}
	return out
}

var start = time.Date(2010, time.February, 5, 0, 0, 0, 0, time.UTC)

// =============================================================================
// ADDITIVE MODEL
// =============================================================================

func TestAdditive_ExtrapolatesLinearTrend(t *testing.T) {
	// GIVEN: 60 weeks of a noiseless straight line
	ds := weekly(start, 65)
	y := make([]float64, 60)
	for i := range y {
		y[i] = 1000 + 20*float64(i)
	}

	// WHEN: Fitting the history and predicting the next 5 weeks
	m := forecast.NewAdditive(forecast.DefaultOptions())
	require.NoError(t, m.Fit(ds[:60], y))
	points, err := m.Predict(ds[60:])
	require.NoError(t, err)

	// THEN: The line is continued
	require.Len(t, points, 5)
	for i, p := range points {
		want := 1000 + 20*float64(60+i)
		assert.InDelta(t, want, p.Mean, 1.0, "week %d", 60+i)
		assert.Equal(t, ds[60+i], p.Date)
	}
}

func TestAdditive_BoundsBracketMean(t *testing.T) {
	raw := retail.DefaultSample()
	ds, err := retail.NewDataset(raw, retail.DefaultCutoff)
	require.NoError(t, err)
	train, _ := ds.Train(1)
	valid, _ := ds.Validation(1)

	m := forecast.NewAdditive(forecast.Options{})
	require.NoError(t, m.Fit(dates(train), sales(train)))
	points, err := m.Predict(dates(valid))
	require.NoError(t, err)

	require.Len(t, points, len(valid))
	for _, p := range points {
		assert.LessOrEqual(t, p.Lower, p.Mean, "lower bound on %s", p.Date)
		assert.LessOrEqual(t, p.Mean, p.Upper, "upper bound on %s", p.Date)
		assert.False(t, math.IsNaN(p.Mean))
	}
	// Noisy data gives a strictly positive interval.
	assert.Less(t, points[0].Lower, points[0].Upper)
}

func TestAdditive_IsDeterministic(t *testing.T) {
	ds := weekly(start, 150)
	y := make([]float64, 120)
	for i := range y {
		y[i] = 5000 + 300*math.Sin(2*math.Pi*float64(i)/52) + 40*math.Sin(float64(i*i))
	}

	fit := func() []forecast.Point {
		m := forecast.NewAdditive(forecast.DefaultOptions())
		require.NoError(t, m.Fit(ds[:120], y))
		p, err := m.Predict(ds[120:])
		require.NoError(t, err)
		return p
	}

	assert.Equal(t, fit(), fit())
}

func TestAdditive_RequiresTwoDistinctDates(t *testing.T) {
	m := forecast.NewAdditive(forecast.DefaultOptions())

	err := m.Fit([]time.Time{start}, []float64{1})
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)

	err = m.Fit([]time.Time{start, start}, []float64{1, 2})
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)
}

func TestAdditive_PredictBeforeFit(t *testing.T) {
	_, err := forecast.NewAdditive(forecast.DefaultOptions()).Predict(weekly(start, 1))
	assert.ErrorIs(t, err, forecast.ErrNotFitted)
}

func TestAdditive_LengthMismatch(t *testing.T) {
	err := forecast.NewAdditive(forecast.DefaultOptions()).Fit(weekly(start, 3), []float64{1, 2})
	assert.ErrorIs(t, err, forecast.ErrLengthMismatch)
}

// =============================================================================
// FORECASTER
// =============================================================================

func newDataset(t *testing.T, stores ...retail.SampleStore) *retail.Dataset {
	ds, err := retail.NewDataset(retail.Sample(stores...), retail.DefaultCutoff)
	require.NoError(t, err)
	return ds
}

// store20 has three years of weekly rows before the cutoff and three months after.
func store20() retail.SampleStore {
	return retail.SampleStore{
		ID:    20,
		Start: time.Date(2009, time.April, 3, 0, 0, 0, 0, time.UTC),
		Weeks: 157 + 13,
		Depts: 2,
	}
}

func TestForecaster_PredictsEveryValidationDate(t *testing.T) {
	ds := newDataset(t, store20())
	valid, _ := ds.Validation(20)

	res, err := forecast.New(ds).Forecast(context.Background(), 20)
	require.NoError(t, err)

	assert.Equal(t, retail.StoreID(20), res.StoreID)
	assert.Equal(t, len(valid), res.ValidationRows)
	require.Len(t, res.Points, len(valid))
	for i, p := range res.Points {
		assert.Equal(t, valid[i].Date, p.Date)
		assert.LessOrEqual(t, p.Lower, p.Mean)
		assert.LessOrEqual(t, p.Mean, p.Upper)
	}
}

func TestForecaster_RepeatedCallsAreStable(t *testing.T) {
	ds := newDataset(t, store20())
	f := forecast.New(ds)

	a, err := f.Forecast(context.Background(), 20)
	require.NoError(t, err)
	b, err := f.Forecast(context.Background(), 20)
	require.NoError(t, err)

	require.Equal(t, len(a.Points), len(b.Points))
	for i := range a.Points {
		assert.InDelta(t, a.Points[i].Mean, b.Points[i].Mean, 1e-9)
	}
}

func TestForecaster_NoTrainingRows(t *testing.T) {
	// GIVEN: Store 7 only has rows after the cutoff
	ds := newDataset(t, store20(), retail.SampleStore{
		ID:    7,
		Start: time.Date(2012, time.April, 6, 0, 0, 0, 0, time.UTC),
		Weeks: 10,
	})

	// WHEN: Forecasting it
	_, err := forecast.New(ds).Forecast(context.Background(), 7)

	// THEN: A defined, client-facing error instead of a crash
	require.Error(t, err)
	var short *forecast.InsufficientHistoryError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, retail.StoreID(7), short.StoreID)
	assert.Equal(t, 0, short.Rows)
	assert.True(t, forecast.IsClientError(err))
}

func TestForecaster_NoValidationRows(t *testing.T) {
	ds := newDataset(t, retail.SampleStore{ID: 3, Weeks: 30})

	res, err := forecast.New(ds).Forecast(context.Background(), 3)

	require.NoError(t, err)
	assert.Empty(t, res.Points)
	assert.Equal(t, 30, res.TrainRows)
}

func TestForecaster_UnknownStore(t *testing.T) {
	ds := newDataset(t, store20())

	_, err := forecast.New(ds).Forecast(context.Background(), 99)

	assert.True(t, retail.IsNotFound(err))
	assert.True(t, forecast.IsClientError(err))
}

type blockingModel struct{ release chan struct{} }

func (m *blockingModel) Fit([]time.Time, []float64) error {
	<-m.release
	return nil
}

func (m *blockingModel) Predict(ds []time.Time) ([]forecast.Point, error) {
	return make([]forecast.Point, len(ds)), nil
}

func TestForecaster_Timeout(t *testing.T) {
	ds := newDataset(t, store20())
	release := make(chan struct{})
	defer close(release)

	f := forecast.New(ds,
		forecast.WithModel(func() forecast.Model { return &blockingModel{release: release} }),
		forecast.WithTimeout(20*time.Millisecond),
	)

	_, err := f.Forecast(context.Background(), 20)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestForecaster_MinTrainRows(t *testing.T) {
	ds := newDataset(t, retail.SampleStore{ID: 3, Weeks: 10})

	_, err := forecast.New(ds, forecast.WithMinTrainRows(52)).Forecast(context.Background(), 3)

	var short *forecast.InsufficientHistoryError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 52, short.Required)
	assert.Equal(t, 10, short.Rows)
}

func dates(obs []retail.Observation) []time.Time {
	out := make([]time.Time, len(obs))
	for i, o := range obs {
		out[i] = o.Date
	}
	return out
}

func sales(obs []retail.Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Sales()
	}
	return out
}
