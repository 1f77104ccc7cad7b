// server/manager_test.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
)

func testSim(t *testing.T) *sim.Sim {
	t.Helper()
	s := sim.NewSim(&sim.Scenario{
		Name: "test",
		Ships: []sim.ShipConfig{
			{ID: "ship1", Name: "Ship One", Class: "frigate", Fuel: 100},
			{ID: "ship2", Name: "Ship Two", Class: "cruiser", Position: [2]float64{0, 400}, Fuel: 100},
		},
	}, nil)
	t.Cleanup(s.Destroy)
	return s
}

func testManager(t *testing.T, config Config) *StationManager {
	t.Helper()
	return NewStationManager(config, testSim(t), nil)
}

// register is a shorthand for the register/assign/claim sign-on dance.
func register(t *testing.T, m *StationManager, name string, ship sim.ShipID, st station.Type) string {
	t.Helper()
	token := m.RegisterClient(name)
	if ship != "" {
		if err := m.AssignToShip(token, ship); err != nil {
			t.Fatalf("AssignToShip(%s): %v", ship, err)
		}
	}
	if st != "" {
		if err := m.ClaimStation(token, st); err != nil {
			t.Fatalf("ClaimStation(%s): %v", st, err)
		}
	}
	return token
}

func TestClaimLifecycle(t *testing.T) {
	m := testManager(t, Config{})

	token := register(t, m, "ada", "ship1", station.Helm)

	if stations := m.ClaimedStations(token); len(stations) != 1 || stations[0] != station.Helm {
		t.Errorf("ClaimedStations = %v; want [helm]", stations)
	}
	if active := m.ActiveStations("ship1"); active[station.Helm] != "ada" {
		t.Errorf("ActiveStations = %v", active)
	}

	if err := m.ReleaseStation(token, station.Helm); err != nil {
		t.Fatalf("ReleaseStation: %v", err)
	}
	if active := m.ActiveStations("ship1"); len(active) != 0 {
		t.Errorf("station still claimed after release: %v", active)
	}

	// Releasing again is an error; there's nothing held.
	if err := m.ReleaseStation(token, station.Helm); !errors.Is(err, ErrNoActiveClaim) {
		t.Errorf("second release error = %v; want %v", err, ErrNoActiveClaim)
	}
}

func TestClaimRequiresAssignment(t *testing.T) {
	m := testManager(t, Config{})

	token := m.RegisterClient("ada")
	if err := m.ClaimStation(token, station.Helm); !errors.Is(err, ErrNotAssignedToShip) {
		t.Errorf("claim without assignment error = %v; want %v", err, ErrNotAssignedToShip)
	}

	if err := m.AssignToShip(token, "nonesuch"); !errors.Is(err, sim.ErrUnknownShip) {
		t.Errorf("assign to unknown ship error = %v; want %v", err, sim.ErrUnknownShip)
	}

	if err := m.ClaimStation("bogus-token", station.Helm); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("claim with bad token error = %v; want %v", err, ErrUnknownClient)
	}
}

func TestClaimExclusivity(t *testing.T) {
	m := testManager(t, Config{})

	register(t, m, "ada", "ship1", station.Helm)

	other := register(t, m, "grace", "ship1", "")
	if err := m.ClaimStation(other, station.Helm); !errors.Is(err, ErrStationAlreadyClaimed) {
		t.Errorf("second claim error = %v; want %v", err, ErrStationAlreadyClaimed)
	}

	// The same station on another ship is free.
	if err := m.AssignToShip(other, "ship2"); err != nil {
		t.Fatalf("AssignToShip: %v", err)
	}
	if err := m.ClaimStation(other, station.Helm); err != nil {
		t.Errorf("claim on other ship: %v", err)
	}
}

func TestSingleClaimPerClient(t *testing.T) {
	m := testManager(t, Config{})

	token := register(t, m, "ada", "ship1", station.Helm)
	if err := m.ClaimStation(token, station.Tactical); !errors.Is(err, ErrAlreadyHoldingStation) {
		t.Errorf("second claim error = %v; want %v", err, ErrAlreadyHoldingStation)
	}
}

func TestMultipleClaimsWhenConfigured(t *testing.T) {
	m := testManager(t, Config{AllowMultipleClaims: true})

	token := register(t, m, "ada", "ship1", station.Helm)
	if err := m.ClaimStation(token, station.Tactical); err != nil {
		t.Fatalf("second claim: %v", err)
	}

	// Multiple claims held: release must name the station.
	if err := m.ReleaseStation(token, ""); !errors.Is(err, ErrStationNotSpecified) {
		t.Errorf("unnamed release error = %v; want %v", err, ErrStationNotSpecified)
	}
	if err := m.ReleaseStation(token, station.Helm); err != nil {
		t.Fatalf("release helm: %v", err)
	}
	if stations := m.ClaimedStations(token); len(stations) != 1 || stations[0] != station.Tactical {
		t.Errorf("ClaimedStations = %v; want [tactical]", stations)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	m := testManager(t, Config{})

	const n = 32
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = register(t, m, "crew", "ship1", "")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.ClaimStation(tokens[i], station.Helm)
		}()
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrStationAlreadyClaimed) {
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("claim winners = %d; want exactly 1", winners)
	}
}

func TestReassignLeavesStaleClaim(t *testing.T) {
	m := testManager(t, Config{})

	token := register(t, m, "ada", "ship1", station.Helm)

	// Reassigning does not release the old ship's claim; it stays held
	// (and blocks this client's next claim) until released.
	if err := m.AssignToShip(token, "ship2"); err != nil {
		t.Fatalf("AssignToShip: %v", err)
	}
	if active := m.ActiveStations("ship1"); active[station.Helm] != "ada" {
		t.Errorf("stale claim dropped on reassign: %v", active)
	}
	if err := m.ClaimStation(token, station.Helm); !errors.Is(err, ErrAlreadyHoldingStation) {
		t.Errorf("claim while holding stale claim error = %v; want %v", err, ErrAlreadyHoldingStation)
	}

	if err := m.ReleaseStation(token, station.Helm); err != nil {
		t.Fatalf("ReleaseStation: %v", err)
	}
	if active := m.ActiveStations("ship1"); len(active) != 0 {
		t.Errorf("ship1 claims after release: %v", active)
	}
	if err := m.ClaimStation(token, station.Helm); err != nil {
		t.Errorf("claim on ship2 after release: %v", err)
	}
}

func TestReleaseAfterReassignFreesClaimedShip(t *testing.T) {
	m := testManager(t, Config{AllowMultipleClaims: true})

	token := register(t, m, "ada", "ship1", station.Helm)
	if err := m.AssignToShip(token, "ship2"); err != nil {
		t.Fatalf("AssignToShip: %v", err)
	}

	// One claim per station per session, even across reassignment: a
	// second helm claim would leave one of the two table entries with no
	// name a release could refer to.
	if err := m.ClaimStation(token, station.Helm); !errors.Is(err, ErrAlreadyHoldingStation) {
		t.Errorf("second helm claim error = %v; want %v", err, ErrAlreadyHoldingStation)
	}
	if err := m.ClaimStation(token, station.Tactical); err != nil {
		t.Fatalf("ClaimStation(tactical): %v", err)
	}

	// Releasing helm frees exactly ship1's slot; ship2's tactical claim
	// is untouched.
	if err := m.ReleaseStation(token, station.Helm); err != nil {
		t.Fatalf("ReleaseStation: %v", err)
	}
	if active := m.ActiveStations("ship1"); len(active) != 0 {
		t.Errorf("ship1 claims after release: %v", active)
	}
	if active := m.ActiveStations("ship2"); active[station.Tactical] != "ada" {
		t.Errorf("ship2 claims after release: %v", active)
	}

	// The freed slot must be claimable right away.
	register(t, m, "grace", "ship1", station.Helm)

	// Sign-off frees whatever is left, on whichever ship it was made.
	if err := m.SignOff(token); err != nil {
		t.Fatalf("SignOff: %v", err)
	}
	if active := m.ActiveStations("ship2"); len(active) != 0 {
		t.Errorf("ship2 claims after sign off: %v", active)
	}
}

func TestPendingEventsAfterSignOff(t *testing.T) {
	m := testManager(t, Config{})

	token := register(t, m, "ada", "ship1", station.Helm)
	if err := m.SignOff(token); err != nil {
		t.Fatalf("SignOff: %v", err)
	}
	if events := m.PendingEvents(token); events != nil {
		t.Errorf("PendingEvents after sign off = %v; want nil", events)
	}
}

func TestForceRelease(t *testing.T) {
	m := testManager(t, Config{})

	captain := register(t, m, "kirk", "ship1", station.Captain)
	register(t, m, "sulu", "ship1", station.Helm)

	if err := m.ForceRelease(captain, station.Helm); err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}
	if active := m.ActiveStations("ship1"); active[station.Helm] != "" {
		t.Errorf("helm still claimed after force release: %v", active)
	}

	// The captain does not inherit the station; they must claim it.
	if _, err := m.CanIssueCommand(captain, "set_thrust"); err != nil {
		// Captain's wildcard covers helm commands anyway.
		t.Errorf("captain CanIssueCommand: %v", err)
	}

	if err := m.ForceRelease(captain, station.Helm); !errors.Is(err, ErrStationNotClaimed) {
		t.Errorf("force release of vacant station error = %v; want %v", err, ErrStationNotClaimed)
	}
}

func TestForceReleaseRequiresCaptain(t *testing.T) {
	m := testManager(t, Config{})

	register(t, m, "sulu", "ship1", station.Helm)
	tactical := register(t, m, "chekov", "ship1", station.Tactical)

	if err := m.ForceRelease(tactical, station.Helm); !errors.Is(err, ErrNotCaptain) {
		t.Errorf("non-captain force release error = %v; want %v", err, ErrNotCaptain)
	}

	// A captain on a different ship has no authority here.
	otherCaptain := register(t, m, "picard", "ship2", station.Captain)
	if err := m.ForceRelease(otherCaptain, station.Helm); !errors.Is(err, ErrStationNotClaimed) {
		t.Errorf("cross-ship force release error = %v; want %v", err, ErrStationNotClaimed)
	}
}

func TestCanIssueCommand(t *testing.T) {
	m := testManager(t, Config{})

	helm := register(t, m, "sulu", "ship1", station.Helm)
	captain := register(t, m, "kirk", "ship1", station.Captain)
	observer := register(t, m, "guest", "ship1", "")

	tests := []struct {
		token   string
		command string
		want    error
	}{
		{helm, "set_thrust", nil},
		{helm, "fire", ErrPermissionDenied},
		{captain, "set_thrust", nil},
		{captain, "fire", nil},
		{observer, "set_thrust", ErrPermissionDenied},
		{"bogus", "set_thrust", ErrUnknownClient},
	}

	for _, tt := range tests {
		ship, err := m.CanIssueCommand(tt.token, tt.command)
		if !errors.Is(err, tt.want) {
			t.Errorf("CanIssueCommand(%q) error = %v; want %v", tt.command, err, tt.want)
		}
		if err == nil && ship != "ship1" {
			t.Errorf("CanIssueCommand(%q) ship = %v; want ship1", tt.command, ship)
		}
	}
}

func TestCleanupStale(t *testing.T) {
	s := testSim(t)
	m := NewStationManager(Config{SessionTimeout: 5 * time.Minute}, s, nil)

	sub := s.Events().Subscribe()
	defer sub.Unsubscribe()

	token := register(t, m, "ada", "ship1", station.Helm)
	sub.Get() // discard the claim event

	// 100s idle: no action yet.
	m.CleanupStale(time.Now().Add(100 * time.Second))
	if _, err := m.Session(token); err != nil {
		t.Fatalf("session dropped too early: %v", err)
	}
	if events := sub.Get(); len(events) != 0 {
		t.Errorf("events after 100s: %v", events)
	}

	// Past the half timeout: warned, but still signed on.
	m.CleanupStale(time.Now().Add(200 * time.Second))
	if _, err := m.Session(token); err != nil {
		t.Fatalf("session dropped at half timeout: %v", err)
	}
	events := sub.Get()
	if len(events) != 1 || events[0].Type != sim.StatusMessageEvent {
		t.Fatalf("events after half timeout: %v", events)
	}

	// Warned only once.
	m.CleanupStale(time.Now().Add(220 * time.Second))
	if events := sub.Get(); len(events) != 0 {
		t.Errorf("repeat warning events: %v", events)
	}

	// A heartbeat clears the warning and resets the clock.
	if err := m.Heartbeat(token); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if events := sub.Get(); len(events) != 1 {
		t.Errorf("expected back-online event, got %v", events)
	}

	// Past the full timeout with no further heartbeats: signed off and
	// the station freed.
	m.CleanupStale(time.Now().Add(301 * time.Second))
	if _, err := m.Session(token); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("session error after timeout = %v; want %v", err, ErrUnknownClient)
	}
	if active := m.ActiveStations("ship1"); len(active) != 0 {
		t.Errorf("stations not freed by sweep: %v", active)
	}
}

func TestSignOffFreesStations(t *testing.T) {
	m := testManager(t, Config{})

	token := register(t, m, "ada", "ship1", station.Helm)
	if err := m.SignOff(token); err != nil {
		t.Fatalf("SignOff: %v", err)
	}

	if active := m.ActiveStations("ship1"); len(active) != 0 {
		t.Errorf("stations held after sign off: %v", active)
	}
	if n := m.NumSessions(); n != 0 {
		t.Errorf("NumSessions = %d; want 0", n)
	}

	// The freed station is immediately claimable.
	other := register(t, m, "grace", "ship1", station.Helm)
	if stations := m.ClaimedStations(other); len(stations) != 1 {
		t.Errorf("reclaim after sign off failed: %v", stations)
	}
}
