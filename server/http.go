// server/http.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"log/slog"
	gomath "math"
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/bridgesim/bridgesim/util"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
)

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	RX, TX           int64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int
	NumClients       int
	SimIdleTime      time.Duration

	ShipStatus []shipCrewStatus
}

///////////////////////////////////////////////////////////////////////////
// Status / statistics via HTTP...

func (s *Server) launchHTTP(port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		s.statsHandler(w, r)
		s.lg.Infof("%s: served stats request", r.URL.String())
	})
	mux.HandleFunc("/telemetry", s.handleTelemetryWS)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.lg.Infof("Launching HTTP server on port %d", port)
	return http.ListenAndServe(":"+strconv.Itoa(port), mux)
}

type shipCrewStatus struct {
	Ship     string
	Stations string
}

func (sc shipCrewStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ship", sc.Ship),
		slog.String("stations", sc.Stations))
}

func (s *Server) getShipStatus() []shipCrewStatus {
	return util.MapSlice(s.manager.Status(), func(ss ShipStatus) shipCrewStatus {
		var crewed []string
		for st, name := range util.SortedMap(ss.Stations) {
			crewed = append(crewed, string(st)+": "+name)
		}
		return shipCrewStatus{
			Ship:     string(ss.Ship),
			Stations: strings.Join(crewed, ", "),
		}
	})
}

var templateFuncs = template.FuncMap{"bytes": func(v int64) string { return util.ByteCount(v).String() }}

var statsTemplate = template.Must(template.New("").Funcs(templateFuncs).Parse(`
<!DOCTYPE html>
<html>
<head>
<title>bridgesim</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Bandwidth: {{bytes .RX}} RX, {{bytes .TX}} TX</li>
  <li>Connected clients: {{.NumClients}}</li>
  <li>Sim idle time: {{.SimIdleTime}}</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Fleet Status</h1>
<table>
  <tr>
  <th>Ship</th>
  <th>Crewed Stations</th>

{{range .ShipStatus}}
  </tr>
  <td>{{.Ship}}</td>
  <td><tt>{{.Stations}}</tt></td>
</tr>
{{end}}
</table>

</body>
</html>
`))

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage, _ := cpu.Percent(time.Second, false)

	stats := serverStats{
		Uptime:           time.Since(s.lg.Start).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		NumClients:       s.manager.NumSessions(),
		SimIdleTime:      s.sim.IdleTime().Round(time.Second),

		ShipStatus: s.getShipStatus(),
	}
	if len(usage) > 0 {
		stats.CPUUsage = int(gomath.Round(usage[0]))
	}

	stats.RX, stats.TX = util.GetLoggedBandwidth()

	statsTemplate.Execute(w, stats)
}

///////////////////////////////////////////////////////////////////////////
// Telemetry websocket

// handleTelemetryWS pushes the client's filtered ship state once a second
// over a websocket. The client authenticates with its session token,
// which it learns from the sign_on response on the command connection.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	cs, err := s.manager.Session(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		s.lg.Errorf("Invalid token for telemetry websocket: %s", token)
		return
	}

	upgrader := websocket.Upgrader{EnableCompression: false}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lg.Errorf("Unable to upgrade telemetry websocket: %v", err)
		return
	}
	defer ws.Close()

	s.lg.Infof("%s: telemetry websocket connected for %q", r.RemoteAddr, cs.Name)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		cs, err := s.manager.Session(token)
		if err != nil {
			// Session swept or signed off; we're done.
			return
		}
		if cs.Ship == "" {
			// Not yet assigned; send an empty frame so the client can
			// tell the connection is alive.
			if err := ws.WriteJSON(map[string]any{}); err != nil {
				return
			}
			continue
		}

		snap, err := s.sim.GetSnapshot(cs.Ship)
		if err != nil {
			return
		}
		if err := ws.WriteJSON(s.filter.FilterForClient(token, snap)); err != nil {
			return
		}
	}
}
