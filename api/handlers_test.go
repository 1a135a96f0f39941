/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Forecast trigger end to end (figure, points, run log)
- Readable client errors (422, 404, 400)
- Per-session ordering (409 for superseded triggers)
- Dashboard page, store listing, history, dataset report
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-forecast/chart"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
	"github.com/warp/retail-forecast/session"
	"github.com/warp/retail-forecast/store/sqlite"
)

// testStores: store 20 has three years before the cutoff and three months
// after it; store 7 only has rows after the cutoff.
func testStores() []retail.SampleStore {
	return []retail.SampleStore{
		{
			ID:    20,
			Type:  "A",
			Start: time.Date(2009, time.April, 3, 0, 0, 0, 0, time.UTC),
			Weeks: 170,
			Depts: 2,
		},
		{
			ID:    7,
			Type:  "B",
			Start: time.Date(2012, time.April, 6, 0, 0, 0, 0, time.UTC),
			Weeks: 10,
		},
	}
}

func newTestHandler(t *testing.T, opts ...forecast.Option) *Handler {
	t.Helper()
	ds, err := retail.NewDataset(retail.Sample(testStores()...), retail.DefaultCutoff)
	require.NoError(t, err)

	runs, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	return NewHandler(ds, forecast.New(ds, opts...), session.NewSequencer(time.Minute, zerolog.Nop()), runs, zerolog.Nop())
}

func newTestRouter(h *Handler) http.Handler {
	return NewRouter(h, RouterOptions{AllowedOrigins: []string{"http://localhost:8050"}})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// FORECASTS
// =============================================================================

func TestCreateForecast_Store20(t *testing.T) {
	// GIVEN: The dashboard with store 20 loaded
	h := newTestHandler(t)
	router := newTestRouter(h)
	valid, err := h.Data.Validation(20)
	require.NoError(t, err)
	history, err := h.Data.History(20)
	require.NoError(t, err)

	// WHEN: Triggering a forecast for store 20
	rec := do(t, router, http.MethodPost, "/api/forecasts", `{"store": 20, "seq": 3}`)

	// THEN: A figure with the five named series is returned
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ForecastResponse](t, rec)

	assert.Equal(t, 20, resp.Store)
	assert.Equal(t, uint64(3), resp.Seq)
	assert.Equal(t, len(valid), resp.ValidationRows)
	assert.Len(t, resp.Points, len(valid))
	assert.NotEmpty(t, resp.RunID)

	require.Len(t, resp.Figure.Data, 5)
	assert.Equal(t, []string{
		chart.SeriesActual,
		chart.SeriesHoliday,
		chart.SeriesForecast,
		chart.SeriesLower,
		chart.SeriesUpper,
	}, resp.Figure.Names())
	assert.Len(t, resp.Figure.Data[0].X, len(history))
	assert.Equal(t, chart.Title, resp.Figure.Layout.Title.Text)

	for _, p := range resp.Points {
		assert.LessOrEqual(t, p.Lower, p.Mean)
		assert.LessOrEqual(t, p.Mean, p.Upper)
	}

	// AND: A session cookie is issued
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)

	// AND: The run is logged without predictions
	runs, err := h.Runs.ListRuns(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusCompleted, runs[0].Status)
	assert.Equal(t, cookie.Value, runs[0].SessionID)
	assert.Equal(t, len(valid), runs[0].ValidRows)
}

func TestCreateForecast_NoTrainingRows(t *testing.T) {
	// GIVEN: Store 7 has no rows before the cutoff
	h := newTestHandler(t)
	router := newTestRouter(h)

	// WHEN: Triggering a forecast for it
	rec := do(t, router, http.MethodPost, "/api/forecasts", `{"store": 7}`)

	// THEN: A readable error instead of a crash
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "Not enough sales history")
	assert.Contains(t, resp.Details, "store 7 has 0 training rows")

	runs, err := h.Runs.ListRuns(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)

	// AND: The server keeps serving
	rec = do(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateForecast_UnknownStore(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodPost, "/api/forecasts", `{"store": 99}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Store not found", decode[ErrorResponse](t, rec).Error)
}

func TestCreateForecast_BadRequests(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"store":`},
		{"missing store", `{"seq": 1}`},
		{"store is not a number", `{"store": "twenty"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/forecasts", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateForecast_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newTestHandler(t,
		forecast.WithModel(func() forecast.Model { return &gatedModel{gate: release} }),
		forecast.WithTimeout(20*time.Millisecond),
	)

	rec := do(t, newTestRouter(h), http.MethodPost, "/api/forecasts", `{"store": 20}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

// gatedModel blocks in Fit until gate is closed or receives a value.
type gatedModel struct {
	gate    chan struct{}
	started chan struct{}
}

func (m *gatedModel) Fit([]time.Time, []float64) error {
	if m.started != nil {
		close(m.started)
	}
	<-m.gate
	return nil
}

func (m *gatedModel) Predict(ds []time.Time) ([]forecast.Point, error) {
	out := make([]forecast.Point, len(ds))
	for i, d := range ds {
		out[i] = forecast.Point{Date: d, Mean: 1, Lower: 0, Upper: 2}
	}
	return out, nil
}

func TestCreateForecast_SupersededWithinSession(t *testing.T) {
	// GIVEN: The first model instance blocks, later ones return at once
	started := make(chan struct{})
	gate := make(chan struct{})
	open := make(chan struct{})
	close(open)

	var mu sync.Mutex
	calls := 0
	factory := func() forecast.Model {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return &gatedModel{gate: gate, started: started}
		}
		return &gatedModel{gate: open}
	}
	h := newTestHandler(t, forecast.WithModel(factory))
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	// The page issues the session cookie.
	page, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	page.Body.Close()
	sid := ""
	for _, c := range page.Cookies() {
		if c.Name == SessionCookie {
			sid = c.Value
		}
	}
	require.NotEmpty(t, sid)

	post := func(body string) *http.Response {
		resp, err := client.Post(srv.URL+"/api/forecasts", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		return resp
	}

	// WHEN: A second click arrives while the first fit is running
	first := make(chan *http.Response, 1)
	go func() { first <- post(`{"store": 20, "seq": 1}`) }()
	<-started

	second := make(chan *http.Response, 1)
	go func() { second <- post(`{"store": 7, "seq": 2}`) }()
	require.Eventually(t, func() bool { return h.Sequencer.Latest(sid) == 2 }, 2*time.Second, 5*time.Millisecond)
	close(gate)

	// THEN: The stale request is refused and only the newest is answered
	r1 := <-first
	defer r1.Body.Close()
	assert.Equal(t, http.StatusConflict, r1.StatusCode)

	r2 := <-second
	defer r2.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, r2.StatusCode)

	runs, err := h.Runs.ListRuns(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusSuperseded, runs[0].Status)
}

func TestListRuns(t *testing.T) {
	h := newTestHandler(t)
	router := newTestRouter(h)
	do(t, router, http.MethodPost, "/api/forecasts", `{"store": 20}`)
	do(t, router, http.MethodPost, "/api/forecasts", `{"store": 7}`)

	rec := do(t, router, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]sqlite.ForecastRun](t, rec), 2)

	rec = do(t, router, http.MethodGet, "/api/runs?store=7&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]sqlite.ForecastRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, 7, runs[0].StoreID)

	rec = do(t, router, http.MethodGet, "/api/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAGE AND STORES
// =============================================================================

func TestIndex_RendersDashboard(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, PageTitle)
	assert.Contains(t, body, "Create forecast")
	assert.Contains(t, body, `id="output_text"`)
	// Default store is the first store id.
	assert.Contains(t, body, `<option value="7" selected>`)
	assert.Contains(t, body, `<option value="20">`)
}

func TestListStores(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodGet, "/api/stores", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StoresResponse](t, rec)
	assert.Equal(t, 7, resp.Default)
	require.Len(t, resp.Stores, 2)
	assert.Equal(t, 7, resp.Stores[0].ID)
	assert.Equal(t, 0, resp.Stores[0].TrainRows)
	assert.Equal(t, 20, resp.Stores[1].ID)
	assert.Equal(t, resp.Stores[1].Observations, resp.Stores[1].TrainRows+resp.Stores[1].ValidationRows)
}

func TestGetHistory(t *testing.T) {
	h := newTestHandler(t)
	router := newTestRouter(h)

	rec := do(t, router, http.MethodGet, "/api/stores/20/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HistoryResponse](t, rec)
	assert.Equal(t, "2012-04-01", resp.Cutoff)
	assert.Len(t, resp.Observations, resp.Store.Observations)

	validation := 0
	for _, o := range resp.Observations {
		if o.Validation {
			validation++
			assert.GreaterOrEqual(t, o.Date, resp.Cutoff)
		} else {
			assert.Less(t, o.Date, resp.Cutoff)
		}
		// Two departments fold into each week.
		assert.Equal(t, 2, o.Rows)
	}
	assert.Equal(t, resp.Store.ValidationRows, validation)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/stores/99/history", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/stores/x/history", "").Code)
}

func TestGetDataset(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodGet, "/api/dataset", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DatasetDTO](t, rec)
	assert.Equal(t, "2012-04-01", resp.Cutoff)
	assert.Equal(t, 2, resp.Report.Stores)
	// Store 20 has two departments per week.
	assert.True(t, resp.HolidayIsCount)
	assert.Equal(t, 170, resp.Report.FoldedKeys)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&retail.StoreNotFoundError{StoreID: 1}, http.StatusNotFound},
		{&forecast.InsufficientHistoryError{StoreID: 1}, http.StatusUnprocessableEntity},
		{session.ErrSuperseded, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, msg := errorStatus(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}
