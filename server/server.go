// server/server.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package server implements the bridge control server: it owns the
// simulation, tracks which client holds which station on which ship, and
// serves the msgpack-over-TCP command protocol that clients speak.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
	"github.com/bridgesim/bridgesim/util"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const DefaultServerPort = 8017
const DefaultHTTPPort = 8018

// Request is one client command frame. Cmd selects the operation; the
// remaining fields are filled in as each command needs them, with
// command-specific arguments in Args.
type Request struct {
	Cmd      string         `msgpack:"cmd" json:"cmd"`
	Name     string         `msgpack:"name,omitempty" json:"name,omitempty"`
	Ship     string         `msgpack:"ship,omitempty" json:"ship,omitempty"`
	Station  string         `msgpack:"station,omitempty" json:"station,omitempty"`
	Args     map[string]any `msgpack:"args,omitempty" json:"args,omitempty"`
	Message  string         `msgpack:"message,omitempty" json:"message,omitempty"`
	Password string         `msgpack:"password,omitempty" json:"password,omitempty"`
}

type ServerLaunchConfig struct {
	Port                int // if 0, finds an open one
	HTTPPort            int // if 0, no HTTP server
	ScenarioFile        string
	SessionTimeout      time.Duration
	AllowMultipleClaims bool
}

type Server struct {
	sim        *sim.Sim
	manager    *StationManager
	dispatcher *PermissionDispatcher
	filter     *TelemetryFilter
	lg         *log.Logger
}

func LaunchServer(config ServerLaunchConfig, lg *log.Logger) {
	util.MonitorCPUUsage(95, true /* panic if wedged */, lg)
	util.MonitorMemoryUsage(128 /* trigger MB */, 64 /* delta MB */, lg)

	_, server, e := makeServer(config, lg)
	if e.HaveErrors() {
		e.PrintErrors(lg)
		os.Exit(1)
	}
	server()
}

// LaunchServerAsync starts the server in the background and returns the
// port it is listening on; tests and the built-in client use it.
func LaunchServerAsync(config ServerLaunchConfig, lg *log.Logger) (int, util.ErrorLogger) {
	port, server, e := makeServer(config, lg)
	if e.HaveErrors() {
		return 0, e
	}

	go server()

	return port, e
}

func makeServer(config ServerLaunchConfig, lg *log.Logger) (int, func(), util.ErrorLogger) {
	var errorLogger util.ErrorLogger

	var listener net.Listener
	var err error
	var port int
	if config.Port == 0 {
		if listener, err = net.Listen("tcp", ":0"); err != nil {
			errorLogger.Error(err)
			return 0, nil, errorLogger
		}
		port = listener.Addr().(*net.TCPAddr).Port
	} else if listener, err = net.Listen("tcp", ":"+strconv.Itoa(config.Port)); err == nil {
		port = config.Port
	} else {
		errorLogger.Error(err)
		return 0, nil, errorLogger
	}

	scenario := sim.DefaultScenario()
	if config.ScenarioFile != "" {
		if scenario, err = sim.LoadScenario(config.ScenarioFile); err != nil {
			errorLogger.Error(err)
			return 0, nil, errorLogger
		}
	}

	serverFunc := func() {
		s := sim.NewSim(scenario, lg)
		manager := NewStationManager(Config{
			SessionTimeout:      config.SessionTimeout,
			AllowMultipleClaims: config.AllowMultipleClaims,
		}, s, lg)
		dispatcher := NewPermissionDispatcher(manager, lg)
		dispatcher.RegisterExecutor(s)

		srv := &Server{
			sim:        s,
			manager:    manager,
			dispatcher: dispatcher,
			filter:     NewTelemetryFilter(manager),
			lg:         lg,
		}

		lg.Infof("Listening on %+v for scenario %q", listener.Addr(), scenario.Name)

		eg, ctx := errgroup.WithContext(context.Background())

		eg.Go(func() error { return srv.acceptLoop(listener) })
		eg.Go(func() error { return srv.updateLoop(ctx) })
		eg.Go(func() error { return srv.sweepLoop(ctx) })
		if config.HTTPPort != 0 {
			eg.Go(func() error { return srv.launchHTTP(config.HTTPPort) })
		}

		if err := eg.Wait(); err != nil {
			lg.Errorf("server exited: %v", err)
			os.Exit(1)
		}
	}

	return port, serverFunc, errorLogger
}

func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		s.lg.Infof("%s: new connection", conn.RemoteAddr())

		cc, err := util.MakeCompressedConn(util.MakeLoggingConn(conn, s.lg))
		if err != nil {
			s.lg.Errorf("MakeCompressedConn: %v", err)
			conn.Close()
			continue
		}
		go s.serveConn(cc, conn.RemoteAddr().String())
	}
}

func (s *Server) updateLoop(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sim.Update()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.manager.CleanupStale(time.Now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// serveConn runs the request loop for one client connection. The session
// lives exactly as long as the connection: it is registered here and
// signed off when the read loop ends, so a dropped connection frees the
// client's stations right away rather than waiting for the sweep.
func (s *Server) serveConn(conn net.Conn, remoteAddr string) {
	defer s.lg.CatchAndReportCrash()
	defer conn.Close()

	token := s.manager.RegisterClient(remoteAddr)
	defer s.manager.SignOff(token)

	dec := msgpack.NewDecoder(conn)
	enc := msgpack.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.lg.Warnf("%s: decode: %v", remoteAddr, err)
			}
			return
		}

		// Any well-formed frame proves the client is alive.
		s.manager.Heartbeat(token)

		result := s.handleRequest(token, &req)
		if err := enc.Encode(result); err != nil {
			s.lg.Warnf("%s: encode: %v", remoteAddr, err)
			return
		}
	}
}

func (s *Server) handleRequest(token string, req *Request) CommandResult {
	switch req.Cmd {
	case "":
		return CommandResult{Message: ErrMalformedMessage.Error()}

	case "sign_on":
		if req.Name == "" {
			return CommandResult{Message: ErrMalformedMessage.Error()}
		}
		if err := s.manager.Rename(token, req.Name); err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true, Response: map[string]any{"token": token}}

	case "assign_ship":
		if err := s.manager.AssignToShip(token, sim.ShipID(req.Ship)); err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true}

	case "claim_station":
		st, ok := station.Parse(req.Station)
		if !ok {
			return CommandResult{Message: ErrUnknownStation.Error()}
		}
		// A named ship must be the one the client is assigned to; claims
		// never land on a ship the client didn't ask for.
		if req.Ship != "" {
			cs, err := s.manager.Session(token)
			if err != nil {
				return CommandResult{Message: err.Error()}
			}
			if sim.ShipID(req.Ship) != cs.Ship {
				return CommandResult{Message: ErrNotAssignedToShip.Error()}
			}
		}
		if err := s.manager.ClaimStation(token, st); err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true}

	case "release_station":
		var st station.Type
		if req.Station != "" {
			var ok bool
			if st, ok = station.Parse(req.Station); !ok {
				return CommandResult{Message: ErrUnknownStation.Error()}
			}
		}
		if err := s.manager.ReleaseStation(token, st); err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true}

	case "force_release":
		st, ok := station.Parse(req.Station)
		if !ok {
			return CommandResult{Message: ErrUnknownStation.Error()}
		}
		if err := s.manager.ForceRelease(token, st); err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true}

	case "station_status":
		cs, err := s.manager.Session(token)
		if err != nil {
			return CommandResult{Message: err.Error()}
		}
		ship := cs.Ship
		if req.Ship != "" {
			ship = sim.ShipID(req.Ship)
		}
		if !s.sim.HasShip(ship) {
			return CommandResult{Message: sim.ErrUnknownShip.Error()}
		}
		stations := make(map[string]string)
		for st, name := range s.manager.ActiveStations(ship) {
			stations[string(st)] = name
		}
		return CommandResult{OK: true, Response: map[string]any{
			"ship":     string(ship),
			"stations": stations,
			"consoles": s.consoleStatus(ship),
		}}

	case "my_status":
		cs, err := s.manager.Session(token)
		if err != nil {
			return CommandResult{Message: err.Error()}
		}
		return CommandResult{OK: true, Response: map[string]any{
			"token":      token,
			"name":       cs.Name,
			"ship":       string(cs.Ship),
			"stations":   util.MapSlice(util.SortedMapKeys(cs.Claims), func(st station.Type) string { return string(st) }),
			"permission": cs.Permission.String(),
		}}

	case "fleet_status":
		return CommandResult{OK: true, Response: s.manager.Status()}

	case "heartbeat":
		// Already counted above.
		return CommandResult{OK: true}

	case "list_ships":
		return CommandResult{OK: true, Response: s.sim.Ships()}

	case "get_state":
		return s.getState(token)

	case "broadcast":
		return s.broadcast(req)

	default:
		return s.dispatcher.Dispatch(token, sim.ShipID(req.Ship), req.Cmd, req.Args)
	}
}

// consoleStatus reports the health of each station's required systems so
// crews can see from station_status why a console is degraded.
func (s *Server) consoleStatus(ship sim.ShipID) map[string]map[string]float64 {
	snap, err := s.sim.GetSnapshot(ship)
	if err != nil {
		return nil
	}

	consoles := make(map[string]map[string]float64)
	for _, st := range station.All() {
		required := station.RequiredSystemsFor(st)
		if len(required) == 0 {
			continue
		}
		health := make(map[string]float64)
		for _, name := range required {
			if sys, ok := snap.Systems[name]; ok {
				health[name] = sys.Health
			}
		}
		consoles[string(st)] = health
	}
	return consoles
}

func (s *Server) getState(token string) CommandResult {
	cs, err := s.manager.Session(token)
	if err != nil {
		return CommandResult{Message: err.Error()}
	}
	if cs.Ship == "" {
		return CommandResult{Message: ErrNotAssignedToShip.Error()}
	}

	snap, err := s.sim.GetSnapshot(cs.Ship)
	if err != nil {
		return CommandResult{Message: err.Error()}
	}

	return CommandResult{OK: true, Response: map[string]any{
		"state":  s.filter.FilterForClient(token, snap),
		"events": s.manager.PendingEvents(token),
	}}
}

// broadcast posts a message to every connected client's event stream.
// It is an administrative command gated on the server-side password
// file, not part of the normal station protocol.
func (s *Server) broadcast(req *Request) CommandResult {
	pw, err := os.ReadFile("password")
	if err != nil {
		return CommandResult{Message: err.Error()}
	}
	if strings.TrimRight(string(pw), "\n\r") != req.Password {
		return CommandResult{Message: ErrInvalidPassword.Error()}
	}

	s.lg.Warnf("Broadcasting message: %s", req.Message)
	s.sim.PostEvent(sim.Event{
		Type:        sim.ServerBroadcastMessageEvent,
		WrittenText: req.Message,
	})
	return CommandResult{OK: true}
}
