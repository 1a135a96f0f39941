/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, keeping the retail and
  forecast types free of wire concerns.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Stores:    StoreDTO, StoresResponse, ObservationDTO, HistoryResponse
  Dataset:   DatasetDTO
  Forecasts: CreateForecastRequest, ForecastResponse, PointDTO
  Websocket: WSRequest, WSMessage

SEE ALSO:
  - handlers.go: Uses these types
  - chart/figure.go: Figure embedded in ForecastResponse
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/retail-forecast/chart"
	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
)

// dateFormat is used for every date on the wire.
const dateFormat = "2006-01-02"

// =============================================================================
// STORES
// =============================================================================

// StoreDTO represents a store in the selector and listings.
type StoreDTO struct {
	ID             int    `json:"id"`
	Type           string `json:"type"`
	Size           int    `json:"size"`
	Observations   int    `json:"observations"`
	TrainRows      int    `json:"train_rows"`
	ValidationRows int    `json:"validation_rows"`
	FirstDate      string `json:"first_date,omitempty"`
	LastDate       string `json:"last_date,omitempty"`
}

// StoresResponse lists stores and the one preselected on the page.
type StoresResponse struct {
	Default int        `json:"default"`
	Stores  []StoreDTO `json:"stores"`
}

// ObservationDTO is one merged weekly row.
type ObservationDTO struct {
	Date         string          `json:"date"`
	WeeklySales  decimal.Decimal `json:"weekly_sales"`
	IsHoliday    bool            `json:"is_holiday"`
	HolidayRows  int             `json:"holiday_rows"`
	Temperature  float64         `json:"temperature"`
	FuelPrice    float64         `json:"fuel_price"`
	CPI          float64         `json:"cpi"`
	Unemployment float64         `json:"unemployment"`
	MarkDown     []float64       `json:"markdown"`
	Rows         int             `json:"rows"`
	Validation   bool            `json:"validation"`
}

// HistoryResponse is a store's merged history split at the cutoff.
type HistoryResponse struct {
	Store        StoreDTO         `json:"store"`
	Cutoff       string           `json:"cutoff"`
	Observations []ObservationDTO `json:"observations"`
}

// DatasetDTO describes the loaded data.
type DatasetDTO struct {
	Cutoff  string             `json:"cutoff"`
	Default int                `json:"default_store"`
	Report  retail.MergeReport `json:"report"`

	// HolidayIsCount is true when some keys folded several rows, so
	// holiday_rows is a count rather than a 0/1 flag.
	HolidayIsCount bool `json:"holiday_is_count"`
}

// =============================================================================
// FORECASTS
// =============================================================================

// CreateForecastRequest is the body of POST /api/forecasts. Seq is the
// client's own counter and is echoed back so it can drop stale replies.
type CreateForecastRequest struct {
	Store *int   `json:"store"`
	Seq   uint64 `json:"seq"`
}

// PointDTO is one predicted week.
type PointDTO struct {
	Date  string  `json:"date"`
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastResponse carries the rendered figure and the raw predictions.
type ForecastResponse struct {
	RunID          string       `json:"run_id,omitempty"`
	Store          int          `json:"store"`
	Seq            uint64       `json:"seq"`
	TrainRows      int          `json:"train_rows"`
	ValidationRows int          `json:"validation_rows"`
	ElapsedMS      int64        `json:"elapsed_ms"`
	Points         []PointDTO   `json:"points"`
	Figure         chart.Figure `json:"figure"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// WEBSOCKET
// =============================================================================

// Websocket message types.
const (
	MsgForecast = "forecast"
	MsgFigure   = "figure"
	MsgError    = "error"
	MsgPing     = "ping"
	MsgPong     = "pong"
)

// WSRequest is a client message on /ws.
type WSRequest struct {
	Type  string `json:"type"`
	Store *int   `json:"store"`
	Seq   uint64 `json:"seq"`
}

// WSMessage is a server message on /ws. Exactly one of Forecast or Error is
// set for figure and error messages.
type WSMessage struct {
	Type     string            `json:"type"`
	Seq      uint64            `json:"seq"`
	Forecast *ForecastResponse `json:"forecast,omitempty"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStoreDTO(s retail.StoreSummary) StoreDTO {
	dto := StoreDTO{
		ID:             int(s.ID),
		Type:           s.Type,
		Size:           s.Size,
		Observations:   s.Observations,
		TrainRows:      s.TrainRows,
		ValidationRows: s.ValidationRows,
	}
	if !s.FirstDate.IsZero() {
		dto.FirstDate = s.FirstDate.Format(dateFormat)
		dto.LastDate = s.LastDate.Format(dateFormat)
	}
	return dto
}

func toObservationDTO(o retail.Observation, validation bool) ObservationDTO {
	return ObservationDTO{
		Date:         o.Date.Format(dateFormat),
		WeeklySales:  o.WeeklySales,
		IsHoliday:    o.IsHoliday,
		HolidayRows:  o.HolidayRows,
		Temperature:  o.Temperature,
		FuelPrice:    o.FuelPrice,
		CPI:          o.CPI,
		Unemployment: o.Unemployment,
		MarkDown:     o.MarkDown[:],
		Rows:         o.Rows,
		Validation:   validation,
	}
}

func toPointDTOs(points []forecast.Point) []PointDTO {
	out := make([]PointDTO, len(points))
	for i, p := range points {
		out[i] = PointDTO{
			Date:  p.Date.Format(dateFormat),
			Mean:  p.Mean,
			Lower: p.Lower,
			Upper: p.Upper,
		}
	}
	return out
}
