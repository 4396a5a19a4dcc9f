package web

import (
	"bytes"
	"fmt"
	"log"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sweeney/speed-fusion/internal/status"
	"github.com/sweeney/speed-fusion/internal/units"
)

// handleChart renders the recent speed history as a line chart.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := renderChart(&buf, s.tracker.Snapshot()); err != nil {
		log.Printf("web: render chart: %v", err)
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func renderChart(buf *bytes.Buffer, snap status.Snapshot) error {
	unit := snap.Config.Unit
	if unit == "" {
		unit = units.KMH
	}
	history := snap.Speed.SpeedHistory

	x := make([]string, len(history))
	y := make([]opts.LineData, len(history))
	for i, v := range history {
		x[i] = fmt.Sprintf("-%ds", len(history)-1-i)
		y[i] = opts.LineData{Value: unit.Convert(v)}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Speed", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed",
			Subtitle: fmt.Sprintf("%s, %d samples", snap.Speed.MotionState, len(history)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit.Label(), Min: 0}),
	)
	line.SetXAxis(x).
		AddSeries("speed", y, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line.Render(buf)
}
