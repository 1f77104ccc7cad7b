// sim/sim_test.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
	gomath "math"
	"testing"
	"time"
)

func testScenario() *Scenario {
	return &Scenario{
		Name: "test",
		Ships: []ShipConfig{
			{ID: "alpha", Name: "Alpha", Class: "frigate", Position: [2]float64{0, 0}, Heading: 0, Fuel: 100},
			{ID: "beta", Name: "Beta", Class: "cruiser", Position: [2]float64{0, 500}, Heading: 180, Fuel: 100},
			{ID: "hauler", Name: "Hauler", Class: "freighter", Position: [2]float64{100000, 100000}, Heading: 90, Fuel: 50},
		},
	}
}

// step advances the sim by the given simulated interval without real
// sleeps.
func step(s *Sim, dt time.Duration) {
	s.mu.Lock(s.lg)
	s.lastUpdate = s.lastUpdate.Add(-dt)
	s.mu.Unlock(s.lg)
	s.Update()
}

func near(a, b, eps float64) bool { return gomath.Abs(a-b) <= eps }

func TestShipIDs(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	ids := s.ShipIDs()
	want := []ShipID{"alpha", "beta", "hauler"}
	if len(ids) != len(want) {
		t.Fatalf("ShipIDs() = %v; want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ShipIDs()[%d] = %v; want %v", i, ids[i], want[i])
		}
	}

	if !s.HasShip("alpha") || s.HasShip("gamma") {
		t.Errorf("HasShip lookup wrong")
	}
}

func TestThrustMovesShip(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	if _, err := s.Execute("alpha", "set_thrust", map[string]any{"thrust": 1.0}); err != nil {
		t.Fatalf("set_thrust: %v", err)
	}
	step(s, time.Second)

	snap, err := s.GetSnapshot("alpha")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	// Heading 0 is +y; a frigate does 30 units/s at full thrust.
	if !near(snap.Position[0], 0, 1e-6) || !near(snap.Position[1], 30, 1) {
		t.Errorf("position = %v; want ~[0 30]", snap.Position)
	}
	if snap.Fuel >= 100 {
		t.Errorf("fuel = %v; want < 100 after burning at full thrust", snap.Fuel)
	}
}

func TestTurnTowardCourse(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	// A frigate turns at 12 deg/s; after one second heading should be 12,
	// converging on 90 over the following seconds.
	if _, err := s.Execute("alpha", "set_course", map[string]any{"heading": 90.0}); err != nil {
		t.Fatalf("set_course: %v", err)
	}
	step(s, time.Second)

	snap, _ := s.GetSnapshot("alpha")
	if !near(snap.Orientation, 12, 0.5) {
		t.Errorf("orientation = %v; want ~12 after 1s", snap.Orientation)
	}

	for range 10 {
		step(s, time.Second)
	}
	snap, _ = s.GetSnapshot("alpha")
	if !near(snap.Orientation, 90, 1e-6) {
		t.Errorf("orientation = %v; want 90 once the turn completes", snap.Orientation)
	}
}

func TestTurnTakesShortWayAround(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	// From heading 0, course 350 should turn left through 359..350, not
	// right through 10..340.
	if _, err := s.Execute("alpha", "set_course", map[string]any{"heading": 350.0}); err != nil {
		t.Fatalf("set_course: %v", err)
	}
	step(s, time.Second/2)

	snap, _ := s.GetSnapshot("alpha")
	if snap.Orientation > 0 && snap.Orientation < 180 {
		t.Errorf("orientation = %v; expected a left turn toward 350", snap.Orientation)
	}
}

func TestAllStop(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	s.Execute("alpha", "set_thrust", map[string]any{"thrust": 0.8})
	if _, err := s.Execute("alpha", "all_stop", nil); err != nil {
		t.Fatalf("all_stop: %v", err)
	}
	step(s, time.Second)

	snap, _ := s.GetSnapshot("alpha")
	if !near(snap.Position[1], 0, 1e-6) {
		t.Errorf("position = %v; want unchanged after all stop", snap.Position)
	}
}

func TestExecuteValidation(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	tests := []struct {
		ship ShipID
		cmd  string
		args map[string]any
		want error
	}{
		{"gamma", "set_thrust", map[string]any{"thrust": 0.5}, ErrUnknownShip},
		{"alpha", "warp", nil, ErrUnknownCommand},
		{"alpha", "set_thrust", map[string]any{"thrust": 1.5}, ErrInvalidCommandArgs},
		{"alpha", "set_thrust", nil, ErrInvalidCommandArgs},
		{"alpha", "set_nav_mode", map[string]any{"mode": "warp"}, ErrInvalidCommandArgs},
		{"alpha", "set_target", map[string]any{"target": "gamma"}, ErrUnknownShip},
		{"alpha", "set_power", map[string]any{"system": "phasers", "power": 0.5}, ErrUnknownSystem},
		{"alpha", "set_alert", map[string]any{"level": "purple"}, ErrInvalidCommandArgs},
		{"alpha", "fire", nil, ErrNoTargetSet},
		{"hauler", "fire", nil, ErrNoWeapons},
	}

	for _, tt := range tests {
		if _, err := s.Execute(tt.ship, tt.cmd, tt.args); !errors.Is(err, tt.want) {
			t.Errorf("Execute(%v, %q, %v) error = %v; want %v", tt.ship, tt.cmd, tt.args, err, tt.want)
		}
	}
}

func TestArgumentNumericTypes(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	// The msgpack decoder hands over whatever integer type fits, so the
	// handlers must accept more than float64.
	for _, v := range []any{1.0, float32(1), int(1), int8(1), int64(1), uint8(1), uint64(1), "1"} {
		if _, err := s.Execute("alpha", "set_thrust", map[string]any{"thrust": v}); err != nil {
			t.Errorf("set_thrust with %T arg: %v", v, err)
		}
	}
}

func TestFire(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	if _, err := s.Execute("beta", "raise_shields", nil); err != nil {
		t.Fatalf("raise_shields: %v", err)
	}
	if _, err := s.Execute("alpha", "set_target", map[string]any{"target": "beta"}); err != nil {
		t.Fatalf("set_target: %v", err)
	}

	response, err := s.Execute("alpha", "fire", nil)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	r, ok := response.(map[string]any)
	if !ok {
		t.Fatalf("fire response %T; want map", response)
	}
	if r["hit"] != "shields" {
		t.Errorf("hit = %v; want shields", r["hit"])
	}
	if r["torpedoes_remaining"] != 7 {
		t.Errorf("torpedoes_remaining = %v; want 7", r["torpedoes_remaining"])
	}

	target, _ := s.GetSnapshot("beta")
	if !near(target.Shields.Strength, 75, 1e-6) {
		t.Errorf("target shields = %v; want 75", target.Shields.Strength)
	}

	// Weapons are discharged until they recharge.
	if _, err := s.Execute("alpha", "fire", nil); !errors.Is(err, ErrWeaponsNotCharged) {
		t.Errorf("second fire error = %v; want %v", err, ErrWeaponsNotCharged)
	}
	for range 12 {
		step(s, time.Second)
	}
	if _, err := s.Execute("alpha", "fire", nil); err != nil {
		t.Errorf("fire after recharge: %v", err)
	}
}

func TestFireOutOfRange(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	// The freighter is far outside the frigate's 1200-unit weapon range.
	s.Execute("alpha", "set_target", map[string]any{"target": "hauler"})
	if _, err := s.Execute("alpha", "fire", nil); !errors.Is(err, ErrTargetOutOfRange) {
		t.Errorf("fire error = %v; want %v", err, ErrTargetOutOfRange)
	}
}

func TestScan(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	response, err := s.Execute("alpha", "scan", map[string]any{"target": "beta"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	r := response.(map[string]any)
	if r["id"] != "beta" || r["class"] != "cruiser" {
		t.Errorf("scan response = %v", r)
	}
	if !near(r["distance"].(float64), 500, 1e-6) || !near(r["bearing"].(float64), 0, 1e-6) {
		t.Errorf("scan distance/bearing = %v/%v; want 500/0", r["distance"], r["bearing"])
	}

	if _, err := s.Execute("alpha", "scan", map[string]any{"target": "hauler"}); !errors.Is(err, ErrTargetOutOfRange) {
		t.Errorf("scan out of range error = %v; want %v", err, ErrTargetOutOfRange)
	}
}

func TestPlotCourse(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	response, err := s.Execute("alpha", "plot_course", map[string]any{"x": 1000.0, "y": 0.0})
	if err != nil {
		t.Fatalf("plot_course: %v", err)
	}
	r := response.(map[string]any)
	if !near(r["heading"].(float64), 90, 1e-6) {
		t.Errorf("heading = %v; want 90", r["heading"])
	}
	if !near(r["distance"].(float64), 1000, 1e-6) {
		t.Errorf("distance = %v; want 1000", r["distance"])
	}
	// A frigate at full thrust covers 1000 units in ~33s.
	if eta := r["eta_seconds"].(float64); !near(eta, 1000.0/30, 0.1) {
		t.Errorf("eta_seconds = %v", eta)
	}
}

func TestSendMessageAndHail(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	sub := s.Events().Subscribe()
	defer sub.Unsubscribe()

	if _, err := s.Execute("alpha", "send_message", map[string]any{"target": "beta", "text": "form up"}); err != nil {
		t.Fatalf("send_message: %v", err)
	}
	if _, err := s.Execute("alpha", "hail", map[string]any{"target": "beta"}); err != nil {
		t.Fatalf("hail: %v", err)
	}

	snap, _ := s.GetSnapshot("beta")
	if len(snap.Comms) != 1 || snap.Comms[0].From != "alpha" || snap.Comms[0].Text != "form up" {
		t.Errorf("beta comms = %v", snap.Comms)
	}

	events := sub.Get()
	var gotMessage, gotHail bool
	for _, ev := range events {
		switch ev.Type {
		case MessageReceivedEvent:
			gotMessage = ev.Ship == "beta" && ev.ToShip == "alpha"
		case HailEvent:
			gotHail = ev.Ship == "beta"
		}
	}
	if !gotMessage || !gotHail {
		t.Errorf("events = %v; want message and hail events", events)
	}
}

func TestRepair(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	s.mu.Lock(s.lg)
	s.ships["alpha"].Systems["engines"].Health = 40
	s.mu.Unlock(s.lg)

	if _, err := s.Execute("alpha", "repair", map[string]any{"system": "engines"}); err != nil {
		t.Fatalf("repair: %v", err)
	}

	// Repairs run at 5 health/s; 40 -> 100 takes 12s.
	sub := s.Events().Subscribe()
	defer sub.Unsubscribe()
	for range 13 {
		step(s, time.Second)
	}

	snap, _ := s.GetSnapshot("alpha")
	if !near(snap.Systems["engines"].Health, 100, 1e-6) {
		t.Errorf("engines health = %v; want 100", snap.Systems["engines"].Health)
	}

	var gotComplete bool
	for _, ev := range sub.Get() {
		if ev.Type == StatusMessageEvent && ev.Ship == "alpha" {
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Errorf("no repair completion event posted")
	}
}

func TestSensorContacts(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	step(s, time.Second)

	snap, _ := s.GetSnapshot("alpha")
	if len(snap.Sensors.Contacts) != 1 {
		t.Fatalf("contacts = %v; want just beta in range", snap.Sensors.Contacts)
	}
	c := snap.Sensors.Contacts[0]
	if c.ID != "beta" || !near(c.Distance, 500, 30) || !near(c.Bearing, 0, 1) {
		t.Errorf("contact = %+v", c)
	}
}

func TestDegradedEnginesSlowShip(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	if _, err := s.Execute("alpha", "set_power", map[string]any{"system": "engines", "power": 0.5}); err != nil {
		t.Fatalf("set_power: %v", err)
	}
	s.Execute("alpha", "set_thrust", map[string]any{"thrust": 1.0})
	step(s, time.Second)

	snap, _ := s.GetSnapshot("alpha")
	if !near(snap.Position[1], 15, 1) {
		t.Errorf("position = %v; want ~[0 15] at half engine power", snap.Position)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	snap, err := s.GetSnapshot("alpha")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	// Mutating a snapshot must not reach the simulation.
	snap.Systems["engines"].Health = 1
	snap.Sensors.Contacts = append(snap.Sensors.Contacts, Contact{ID: "ghost"})

	step(s, time.Millisecond)
	fresh, _ := s.GetSnapshot("alpha")
	if fresh.Systems["engines"].Health != 100 {
		t.Errorf("snapshot mutation leaked into sim state")
	}

	if _, err := s.GetSnapshot("gamma"); !errors.Is(err, ErrUnknownShip) {
		t.Errorf("GetSnapshot(unknown) error = %v; want %v", err, ErrUnknownShip)
	}
}

func TestSnapshotCachePerGeneration(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	a, _ := s.GetSnapshot("alpha")
	b, _ := s.GetSnapshot("alpha")
	if a != b {
		t.Errorf("snapshots within one generation should be cached")
	}

	step(s, time.Millisecond)
	c, _ := s.GetSnapshot("alpha")
	if a == c {
		t.Errorf("snapshot not refreshed after Update")
	}
	if c.Generation == a.Generation {
		t.Errorf("generation not advanced: %d", c.Generation)
	}
}

func TestFuelExhaustion(t *testing.T) {
	s := NewSim(testScenario(), nil)
	defer s.Destroy()

	s.mu.Lock(s.lg)
	s.ships["alpha"].Fuel = 0.001
	s.mu.Unlock(s.lg)

	s.Execute("alpha", "set_thrust", map[string]any{"thrust": 1.0})
	step(s, time.Second)
	snap, _ := s.GetSnapshot("alpha")
	y := snap.Position[1]

	// Out of fuel now; further updates must not move the ship.
	step(s, time.Second)
	snap, _ = s.GetSnapshot("alpha")
	if snap.Fuel != 0 {
		t.Errorf("fuel = %v; want 0", snap.Fuel)
	}
	if !near(snap.Position[1], y, 1e-6) {
		t.Errorf("ship moved without fuel: %v -> %v", y, snap.Position[1])
	}
}
