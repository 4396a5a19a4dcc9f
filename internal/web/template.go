package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/speed-fusion/internal/status"
	"github.com/sweeney/speed-fusion/internal/units"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"live": func(ok bool) string {
		if ok {
			return "live"
		}
		return "down"
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Speed Fusion</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.speed { font-size: 3em; font-weight: bold; }
.live { color: green; }
.down { color: #888; }
.warning { color: orange; font-weight: bold; }
.exceeded { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Speed Fusion</h1>

<p><span id="speed" class="speed">{{.Current}}</span> <span id="unit">{{.UnitLabel}}</span></p>

<h2>Trip</h2>
<table>
<tr><th>State</th><td id="state">{{orUnknown (printf "%s" .Speed.MotionState)}}</td></tr>
<tr><th>Confidence</th><td id="confidence">{{.Speed.Confidence}}</td></tr>
<tr><th>Source</th><td id="source">{{.Speed.PrimarySource}}</td></tr>
<tr><th>Distance</th><td id="distance">{{.Distance}}</td></tr>
<tr><th>Duration</th><td id="duration">{{.Duration}}</td></tr>
<tr><th>Average</th><td id="average">{{.Average}} {{.UnitLabel}}</td></tr>
<tr><th>Max</th><td id="max">{{.Max}} {{.UnitLabel}}</td></tr>
<tr><th>Alert</th><td id="alert" class="{{.AlertLevel}}">{{.AlertLevel}}</td></tr>
<tr><th>Session</th><td>{{if .Paused}}paused{{else if .Running}}running{{else}}stopped{{end}}</td></tr>
</table>

<h2>Sensors</h2>
<table>
<tr><th>GPS</th><td class="{{live .Speed.SensorHealth.GPS}}">{{live .Speed.SensorHealth.GPS}}</td></tr>
<tr><th>Accelerometer</th><td class="{{live .Speed.SensorHealth.Accelerometer}}">{{live .Speed.SensorHealth.Accelerometer}}</td></tr>
<tr><th>Gyroscope</th><td class="{{live .Speed.SensorHealth.Gyroscope}}">{{live .Speed.SensorHealth.Gyroscope}}</td></tr>
<tr><th>Pedometer</th><td class="{{live .Speed.SensorHealth.Pedometer}}">{{live .Speed.SensorHealth.Pedometer}}</td></tr>
<tr><th>Barometer</th><td class="{{live .Speed.SensorHealth.Barometer}}">{{live .Speed.SensorHealth.Barometer}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Trips saved</th><td>{{.TripsSaved}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/chart">Chart</a> | <a href="/trips.json">Trips</a></p>
<script>
(function() {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  function set(id, text) { var el = document.getElementById(id); if (el) el.textContent = text; }
  ws.onmessage = function(ev) {
    try {
      var s = JSON.parse(ev.data).status;
      set("speed", s.speed.current);
      set("state", s.state);
      set("confidence", s.confidence);
      set("source", s.source);
      set("distance", s.distance);
      set("duration", s.duration);
      set("average", s.speed.average + " " + s.speed.unit);
      set("max", s.speed.max + " " + s.speed.unit);
      set("alert", s.alert);
      document.getElementById("alert").className = s.alert;
    } catch (e) {}
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	unit := snap.Config.Unit
	if unit == "" {
		unit = units.KMH
	}
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		UnitLabel string
		Current   string
		Average   string
		Max       string
		Distance  string
		Duration  string
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		UnitLabel: unit.Label(),
		Current:   units.FormatSpeed(snap.Speed.CurrentSpeed, unit),
		Average:   units.FormatSpeed(snap.Speed.AverageSpeed, unit),
		Max:       units.FormatSpeed(snap.Speed.MaxSpeed, unit),
		Distance:  units.FormatDistance(snap.Speed.TotalDistance),
		Duration:  units.FormatDuration(snap.Speed.TripDuration),
	}
	indexTmpl.Execute(w, data)
}
