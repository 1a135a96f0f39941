/*
Package chart builds the actual-vs-forecast figure shown on the dashboard.

FIGURE:
  A plotly.js-compatible JSON document: five line traces and a dual-axis
  layout. The browser hands it to Plotly.react unchanged.

  #  name                  axis  style
  1  Actual Weekly Sales   y     maroon, width 3
  2  Holiday Flag          y2    darkturquoise, width 3, dashed
  3  Forecast              y     grey, width 3
  4  Forecast Lower        y     red, width 2, dashed
  5  Forecast Upper        y     blue, width 2, dashed

  Traces 1-2 span the store's whole history; 3-5 span the validation window.
*/
package chart

import (
	"time"

	"github.com/warp/retail-forecast/forecast"
	"github.com/warp/retail-forecast/retail"
)

// Trace names, in figure order.
const (
	SeriesActual   = "Actual Weekly Sales"
	SeriesHoliday  = "Holiday Flag"
	SeriesForecast = "Forecast"
	SeriesLower    = "Forecast Lower"
	SeriesUpper    = "Forecast Upper"
)

const (
	Title    = "System Load: Actual vs. Holiday Flag"
	Template = "plotly_white"

	dateFormat = "2006-01-02"
)

// Line is a trace's stroke.
type Line struct {
	Color string `json:"color"`
	Width int    `json:"width"`
	Dash  string `json:"dash,omitempty"`
}

// Trace is one plotted series.
type Trace struct {
	Type  string    `json:"type"`
	Mode  string    `json:"mode"`
	Name  string    `json:"name"`
	X     []string  `json:"x"`
	Y     []float64 `json:"y"`
	Line  Line      `json:"line"`
	YAxis string    `json:"yaxis"`
}

// Text is a plotly title object.
type Text struct {
	Text string `json:"text"`
}

// Axis is a plotly axis.
type Axis struct {
	Title      Text   `json:"title"`
	Side       string `json:"side,omitempty"`
	Overlaying string `json:"overlaying,omitempty"`
	GridColor  string `json:"gridcolor,omitempty"`
	ShowGrid   bool   `json:"showgrid"`
	Type       string `json:"type,omitempty"`
}

// Layout is the figure layout. Named templates are resolved into the
// colour fields because plotly.js does not know them.
type Layout struct {
	Title        Text   `json:"title"`
	XAxis        Axis   `json:"xaxis"`
	YAxis        Axis   `json:"yaxis"`
	YAxis2       Axis   `json:"yaxis2"`
	PaperBGColor string `json:"paper_bgcolor"`
	PlotBGColor  string `json:"plot_bgcolor"`
}

// palette holds the colours a named template sets.
type palette struct {
	paper string
	plot  string
	grid  string
}

var palettes = map[string]palette{
	"plotly_white": {paper: "white", plot: "white", grid: "#EBF0F8"},
	"plotly":       {paper: "white", plot: "#E5ECF6", grid: "white"},
}

// Figure is the full chart document.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Build assembles the five-trace figure for one store.
func Build(history []retail.Observation, points []forecast.Point) Figure {
	histX := make([]string, len(history))
	actual := make([]float64, len(history))
	holiday := make([]float64, len(history))
	for i, o := range history {
		histX[i] = o.Date.Format(dateFormat)
		actual[i] = o.Sales()
		holiday[i] = o.HolidayFlag()
	}

	fcX := make([]string, len(points))
	mean := make([]float64, len(points))
	lower := make([]float64, len(points))
	upper := make([]float64, len(points))
	for i, p := range points {
		fcX[i] = p.Date.Format(dateFormat)
		mean[i] = p.Mean
		lower[i] = p.Lower
		upper[i] = p.Upper
	}

	return Figure{
		Data: []Trace{
			line(SeriesActual, histX, actual, Line{Color: "maroon", Width: 3}, "y"),
			line(SeriesHoliday, histX, holiday, Line{Color: "darkturquoise", Width: 3, Dash: "dash"}, "y2"),
			line(SeriesForecast, fcX, mean, Line{Color: "grey", Width: 3}, "y"),
			line(SeriesLower, fcX, lower, Line{Color: "red", Width: 2, Dash: "dash"}, "y"),
			line(SeriesUpper, fcX, upper, Line{Color: "blue", Width: 2, Dash: "dash"}, "y"),
		},
		Layout: LayoutFor(Template),
	}
}

// Empty is the figure shown before the first forecast.
func Empty() Figure {
	return Figure{Data: []Trace{}, Layout: LayoutFor(Template)}
}

func line(name string, x []string, y []float64, l Line, axis string) Trace {
	return Trace{Type: "scatter", Mode: "lines", Name: name, X: x, Y: y, Line: l, YAxis: axis}
}

// LayoutFor returns the dual-axis layout coloured by the named template.
// Unknown names fall back to plotly_white.
func LayoutFor(template string) Layout {
	p, ok := palettes[template]
	if !ok {
		p = palettes[Template]
	}
	return Layout{
		Title:        Text{Text: Title},
		XAxis:        Axis{Title: Text{Text: "Date"}, Type: "date", GridColor: p.grid, ShowGrid: true},
		YAxis:        Axis{Title: Text{Text: "Sales"}, GridColor: p.grid, ShowGrid: true},
		YAxis2:       Axis{Title: Text{Text: SeriesHoliday}, Side: "right", Overlaying: "y"},
		PaperBGColor: p.paper,
		PlotBGColor:  p.plot,
	}
}

// Span returns the first and last x value across every trace.
func (f Figure) Span() (first, last time.Time) {
	for _, tr := range f.Data {
		for _, x := range tr.X {
			d, err := time.Parse(dateFormat, x)
			if err != nil {
				continue
			}
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if d.After(last) {
				last = d
			}
		}
	}
	return first, last
}

// Names lists trace names in order.
func (f Figure) Names() []string {
	out := make([]string, len(f.Data))
	for i, tr := range f.Data {
		out[i] = tr.Name
	}
	return out
}
