package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/retail-forecast/retail"
)

// Result is the output of one forecast request. It is built per request and
// never cached.
type Result struct {
	StoreID        retail.StoreID
	TrainRows      int
	ValidationRows int
	Points         []Point
	Elapsed        time.Duration
}

// Forecaster fits a fresh model for a store on every call.
type Forecaster struct {
	data     *retail.Dataset
	newModel ModelFactory
	minRows  int
	timeout  time.Duration
	log      zerolog.Logger
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithModel replaces the default Additive model.
func WithModel(f ModelFactory) Option {
	return func(fc *Forecaster) { fc.newModel = f }
}

// WithTimeout bounds each Forecast call. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(fc *Forecaster) { fc.timeout = d }
}

// WithMinTrainRows raises the training-row floor above MinTrainRows.
func WithMinTrainRows(n int) Option {
	return func(fc *Forecaster) {
		if n > MinTrainRows {
			fc.minRows = n
		}
	}
}

// WithLogger sets the logger used for per-request debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(fc *Forecaster) { fc.log = l }
}

// New creates a Forecaster over an immutable dataset.
func New(data *retail.Dataset, opts ...Option) *Forecaster {
	f := &Forecaster{
		data:     data,
		newModel: AdditiveFactory(DefaultOptions()),
		minRows:  MinTrainRows,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forecast fits the store's training rows and predicts its validation dates.
//
// A store without training rows yields *InsufficientHistoryError. A store
// without validation rows yields a Result with no points.
func (f *Forecaster) Forecast(ctx context.Context, id retail.StoreID) (*Result, error) {
	started := time.Now()

	train, err := f.data.Train(id)
	if err != nil {
		return nil, err
	}
	valid, err := f.data.Validation(id)
	if err != nil {
		return nil, err
	}
	if len(train) < f.minRows {
		return nil, &InsufficientHistoryError{StoreID: id, Rows: len(train), Required: f.minRows}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	points, err := f.fitPredict(ctx, train, valid)
	if err != nil {
		var short *InsufficientHistoryError
		if errors.As(err, &short) {
			short.StoreID = id
		}
		return nil, fmt.Errorf("forecast store %d: %w", int(id), err)
	}

	res := &Result{
		StoreID:        id,
		TrainRows:      len(train),
		ValidationRows: len(valid),
		Points:         points,
		Elapsed:        time.Since(started),
	}
	f.log.Debug().
		Int("store", int(id)).
		Int("train_rows", res.TrainRows).
		Int("validation_rows", res.ValidationRows).
		Dur("elapsed", res.Elapsed).
		Msg("forecast complete")
	return res, nil
}

// fitPredict runs the model off the caller's goroutine so a cancelled
// context returns immediately. The abandoned fit finishes in the background
// and its result is dropped; it can overlap the session's next fit.
func (f *Forecaster) fitPredict(ctx context.Context, train, valid []retail.Observation) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		points []Point
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		model := f.newModel()
		ds, y := series(train)
		if err := model.Fit(ds, y); err != nil {
			done <- outcome{err: err}
			return
		}
		horizon, _ := series(valid)
		points, err := model.Predict(horizon)
		done <- outcome{points: points, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.points, o.err
	}
}

func series(obs []retail.Observation) ([]time.Time, []float64) {
	ds := make([]time.Time, len(obs))
	y := make([]float64, len(obs))
	for i, o := range obs {
		ds[i] = o.Date
		y[i] = o.Sales()
	}
	return ds, y
}
