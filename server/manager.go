// server/manager.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
	"github.com/bridgesim/bridgesim/util"
)

type Config struct {
	// SessionTimeout is how long a client may go without being heard from
	// before the sweep signs it off and frees its stations.
	SessionTimeout time.Duration
	// AllowMultipleClaims lets a single client hold more than one station
	// on its ship, for short-handed crews.
	AllowMultipleClaims bool
}

func (c *Config) setDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 5 * time.Minute
	}
}

// ClientSession is the manager's record of one signed-on client. The
// net.Conn never appears here; connection handling stays in the server
// loop's per-connection goroutine.
type ClientSession struct {
	Token string
	Name  string
	Ship  sim.ShipID
	// Claims maps each held station to the ship it was claimed on, which
	// may differ from Ship if the client was reassigned while holding it.
	Claims     map[station.Type]sim.ShipID
	Permission station.PermissionLevel

	lastHeard time.Time
	// warnedStale is set when the session passes half the timeout without
	// a heartbeat, so the "connection lost?" event is posted only once.
	warnedStale bool

	eventSub *sim.EventsSubscription
}

func (cs *ClientSession) holds(st station.Type) bool {
	_, ok := cs.Claims[st]
	return ok
}

// StationManager owns all sessions and station claims. Every mutation of
// session or claim state happens under its single mutex, so claim
// exclusivity is structural: there is no code path that can install two
// holders for one (ship, station).
type StationManager struct {
	mu util.LoggingMutex

	config   Config
	sessions map[string]*ClientSession
	// claims[ship][station] is the token of the holding client.
	claims map[sim.ShipID]map[station.Type]string

	sim *sim.Sim
	lg  *log.Logger
}

func NewStationManager(config Config, s *sim.Sim, lg *log.Logger) *StationManager {
	config.setDefaults()
	return &StationManager{
		config:   config,
		sessions: make(map[string]*ClientSession),
		claims:   make(map[sim.ShipID]map[station.Type]string),
		sim:      s,
		lg:       lg,
	}
}

///////////////////////////////////////////////////////////////////////////
// Session lifecycle

// RegisterClient creates a session for a newly-connected client and
// returns its token. The token is the client's identity for everything
// that follows.
func (m *StationManager) RegisterClient(name string) string {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	token := makeClientToken(m.lg)
	m.sessions[token] = &ClientSession{
		Token:     token,
		Name:      name,
		Claims:    make(map[station.Type]sim.ShipID),
		lastHeard: time.Now(),
		eventSub:  m.sim.Events().Subscribe(),
	}

	m.lg.Infof("%s: registered client %q", token, name)
	return token
}

// SignOff removes the session and frees any stations it holds.
func (m *StationManager) SignOff(token string) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	m.signOff(cs)
	return nil
}

// signOff must be called with m.mu held.
func (m *StationManager) signOff(cs *ClientSession) {
	for st := range cs.Claims {
		m.releaseClaim(cs, st)
	}
	if cs.eventSub != nil {
		cs.eventSub.Unsubscribe()
	}
	delete(m.sessions, cs.Token)

	m.lg.Infof("%s: signed off %q", cs.Token, cs.Name)
}

// Rename sets the client's display name; sessions start out named for
// their remote address until the client signs on properly.
func (m *StationManager) Rename(token, name string) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	cs.Name = name
	m.heard(cs)
	return nil
}

// AssignToShip binds the client to a ship so that it may claim stations
// there. Reassigning to another ship does not touch claims held on the
// previous ship; those remain until released or swept.
func (m *StationManager) AssignToShip(token string, ship sim.ShipID) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	if !m.sim.HasShip(ship) {
		return sim.ErrUnknownShip
	}

	cs.Ship = ship
	m.heard(cs)

	m.lg.Infof("%s: %q assigned to ship %s", token, cs.Name, ship)
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Claims

// ClaimStation gives the client exclusive control of a station on its
// assigned ship. The check and the insert happen under one lock hold, so
// of N concurrent claimants exactly one wins.
func (m *StationManager) ClaimStation(token string, st station.Type) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	if cs.Ship == "" {
		return ErrNotAssignedToShip
	}
	if _, ok := station.Get(st); !ok {
		return ErrUnknownStation
	}
	// A station may be held once per session, even across reassignment:
	// holding HELM on two ships under one token would leave the claim
	// table with an entry no release could name.
	if _, ok := cs.Claims[st]; ok {
		return ErrAlreadyHoldingStation
	}
	if len(cs.Claims) > 0 && !m.config.AllowMultipleClaims {
		return ErrAlreadyHoldingStation
	}

	shipClaims := m.claims[cs.Ship]
	if shipClaims == nil {
		shipClaims = make(map[station.Type]string)
		m.claims[cs.Ship] = shipClaims
	}
	if _, ok := shipClaims[st]; ok {
		return ErrStationAlreadyClaimed
	}

	shipClaims[st] = token
	cs.Claims[st] = cs.Ship
	if st == station.Captain {
		cs.Permission = station.Command
	} else if cs.Permission < station.Officer {
		cs.Permission = station.Officer
	}
	m.heard(cs)

	m.sim.PostEvent(sim.Event{
		Type:        sim.StatusMessageEvent,
		Ship:        cs.Ship,
		Station:     string(st),
		WrittenText: fmt.Sprintf("%s claimed by %s on %s", strings.ToUpper(string(st)), cs.Name, cs.Ship),
	})
	m.lg.Infof("%s: %q claimed %s on %s", token, cs.Name, st, cs.Ship)
	return nil
}

// ReleaseStation gives up a claim. With an empty station it releases the
// client's single claim; when multiple claims are held the station must
// be named.
func (m *StationManager) ReleaseStation(token string, st station.Type) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	if len(cs.Claims) == 0 {
		return ErrNoActiveClaim
	}
	if st == "" {
		if len(cs.Claims) > 1 {
			return ErrStationNotSpecified
		}
		for held := range cs.Claims {
			st = held
		}
	}
	if !cs.holds(st) {
		return ErrNoActiveClaim
	}

	m.releaseClaim(cs, st)
	m.heard(cs)
	return nil
}

// releaseClaim frees one claim and posts the corresponding status event.
// Must be called with m.mu held.
func (m *StationManager) releaseClaim(cs *ClientSession, st station.Type) {
	// The session records which ship the claim was made on; that may not
	// be the current assignment if the client was reassigned while
	// holding it.
	ship, ok := cs.Claims[st]
	if !ok {
		return
	}
	if shipClaims := m.claims[ship]; shipClaims[st] == cs.Token {
		delete(shipClaims, st)
		if len(shipClaims) == 0 {
			delete(m.claims, ship)
		}
		m.sim.PostEvent(sim.Event{
			Type:        sim.StatusMessageEvent,
			Ship:        ship,
			Station:     string(st),
			WrittenText: fmt.Sprintf("%s released by %s on %s", strings.ToUpper(string(st)), cs.Name, ship),
		})
		m.lg.Infof("%s: %q released %s on %s", cs.Token, cs.Name, st, ship)
	}
	delete(cs.Claims, st)
	if len(cs.Claims) == 0 {
		cs.Permission = station.Observer
	}
}

// ForceRelease lets the captain of a ship revoke another client's claim
// on one of that ship's stations. The captain cannot then issue the
// station's commands directly; they must claim the freed station first.
func (m *StationManager) ForceRelease(captainToken string, st station.Type) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	capt, ok := m.sessions[captainToken]
	if !ok {
		return ErrUnknownClient
	}
	if !capt.holds(station.Captain) {
		return ErrNotCaptain
	}

	holderToken, ok := m.claims[capt.Ship][st]
	if !ok {
		return ErrStationNotClaimed
	}
	holder, ok := m.sessions[holderToken]
	if !ok {
		// Orphaned claim; just clear it.
		delete(m.claims[capt.Ship], st)
		return nil
	}

	m.releaseClaim(holder, st)
	m.heard(capt)

	m.lg.Warnf("%s: captain %q force-released %s on %s from %q", captainToken,
		capt.Name, st, capt.Ship, holder.Name)
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Liveness

// Heartbeat records that the client is alive. The server loop calls this
// for every request received, not just explicit heartbeat commands.
func (m *StationManager) Heartbeat(token string) error {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ErrUnknownClient
	}
	m.heard(cs)
	return nil
}

// heard must be called with m.mu held.
func (m *StationManager) heard(cs *ClientSession) {
	cs.lastHeard = time.Now()
	if cs.warnedStale {
		cs.warnedStale = false
		m.sim.PostEvent(sim.Event{
			Type:        sim.StatusMessageEvent,
			Ship:        cs.Ship,
			WrittenText: fmt.Sprintf("%s is back online.", cs.Name),
		})
		m.lg.Warnf("%s: %q connection re-established", cs.Token, cs.Name)
	}
}

// CleanupStale signs off sessions not heard from within the timeout so
// their stations free up for someone else, warning at half the timeout
// first. It takes the current time as an argument so tests can drive it.
func (m *StationManager) CleanupStale(now time.Time) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	for _, cs := range m.sessions {
		idle := now.Sub(cs.lastHeard)
		if idle > m.config.SessionTimeout {
			m.lg.Warnf("%s: signing off stale client %q (idle %s)", cs.Token, cs.Name, idle)
			m.signOff(cs)
		} else if idle > m.config.SessionTimeout/2 && !cs.warnedStale {
			cs.warnedStale = true
			m.sim.PostEvent(sim.Event{
				Type:        sim.StatusMessageEvent,
				Ship:        cs.Ship,
				WrittenText: fmt.Sprintf("%s has not been heard from for %s. Connection lost?", cs.Name, idle.Round(time.Second)),
			})
		}
	}
}

///////////////////////////////////////////////////////////////////////////
// Queries

// CanIssueCommand reports whether the client may run a simulation command
// and, if so, the ship it applies to. The captain station may issue any
// command.
func (m *StationManager) CanIssueCommand(token, command string) (sim.ShipID, error) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return "", ErrUnknownClient
	}
	if cs.Ship == "" {
		return "", ErrNotAssignedToShip
	}

	for st := range cs.Claims {
		if station.IsAllowed(st, command) {
			return cs.Ship, nil
		}
	}
	return "", ErrPermissionDenied
}

// Session returns a copy of the client's session for status reporting.
func (m *StationManager) Session(token string) (ClientSession, error) {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return ClientSession{}, ErrUnknownClient
	}
	out := *cs
	out.Claims = util.DuplicateMap(cs.Claims)
	return out, nil
}

// ClaimedStations returns the stations the client currently holds.
func (m *StationManager) ClaimedStations(token string) []station.Type {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok {
		return nil
	}
	return util.SortedMapKeys(cs.Claims)
}

// PendingEvents drains the client's event subscription. The mutex is
// held across the Get so that a concurrent sweep can't unsubscribe the
// session mid-drain; no one takes the event stream's lock before ours,
// so the ordering is safe.
func (m *StationManager) PendingEvents(token string) []sim.Event {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	cs, ok := m.sessions[token]
	if !ok || cs.eventSub == nil {
		return nil
	}
	return cs.eventSub.Get()
}

// ActiveStations maps each claimed station on a ship to the name of the
// client holding it.
func (m *StationManager) ActiveStations(ship sim.ShipID) map[station.Type]string {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	active := make(map[station.Type]string)
	for st, token := range m.claims[ship] {
		if cs, ok := m.sessions[token]; ok {
			active[st] = cs.Name
		}
	}
	return active
}

// ShipStatus summarizes one ship's crewing for fleet_status and the HTTP
// status page.
type ShipStatus struct {
	Ship     sim.ShipID              `msgpack:"ship" json:"ship"`
	Stations map[station.Type]string `msgpack:"stations" json:"stations"`
}

func (m *StationManager) Status() []ShipStatus {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)

	var status []ShipStatus
	for _, ship := range util.SortedMapKeys(m.claims) {
		st := ShipStatus{Ship: ship, Stations: make(map[station.Type]string)}
		for stn, token := range m.claims[ship] {
			if cs, ok := m.sessions[token]; ok {
				st.Stations[stn] = cs.Name
			}
		}
		status = append(status, st)
	}
	return status
}

func (m *StationManager) NumSessions() int {
	m.mu.Lock(m.lg)
	defer m.mu.Unlock(m.lg)
	return len(m.sessions)
}

func makeClientToken(lg *log.Logger) string {
	var buf [16]byte
	if _, err := crand.Read(buf[:]); err != nil {
		lg.Errorf("%v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf[:])
}
