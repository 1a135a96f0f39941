package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/warp/retail-forecast/chart"
)

//go:embed web/index.html
var webFS embed.FS

var indexTemplate = template.Must(template.ParseFS(webFS, "web/index.html"))

// PageTitle is the dashboard heading.
const PageTitle = "Retail Fuel Dashboard Forecasting"

type pageData struct {
	Title   string
	Stores  []StoreDTO
	Default int
	Cutoff  string
	Figure  chart.Figure
}

// Index renders the dashboard. The dropdown is passive state; only the
// button triggers a forecast.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	summaries := h.Data.Summaries()
	stores := make([]StoreDTO, len(summaries))
	for i, s := range summaries {
		stores[i] = toStoreDTO(s)
	}

	// Issue the session cookie up front so the first trigger is ordered too.
	h.sessionID(w, r)

	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, pageData{
		Title:   PageTitle,
		Stores:  stores,
		Default: int(h.Data.DefaultStore()),
		Cutoff:  h.Data.Cutoff().Format(dateFormat),
		Figure:  chart.Empty(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to render page")
		writeError(w, http.StatusInternalServerError, "Failed to render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
