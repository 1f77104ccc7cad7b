// sim/ship.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"time"
)

// ShipID identifies one vessel in the scenario.
type ShipID string

type NavMode string

const (
	NavManual    NavMode = "manual"
	NavAutopilot NavMode = "autopilot"
	NavDocking   NavMode = "docking"
)

type AlertLevel string

const (
	AlertGreen  AlertLevel = "green"
	AlertYellow AlertLevel = "yellow"
	AlertRed    AlertLevel = "red"
)

// shipClass sets the performance envelope for a vessel; class names in
// scenario files index into shipClasses.
type shipClass struct {
	MaxSpeed    float64 // units/s at full thrust
	TurnRate    float64 // deg/s
	FuelBurn    float64 // fuel units/s at full thrust
	SensorRange float64
	WeaponRange float64
	Torpedoes   int
}

var shipClasses = map[string]shipClass{
	"frigate":   {MaxSpeed: 30, TurnRate: 12, FuelBurn: 0.06, SensorRange: 5000, WeaponRange: 1200, Torpedoes: 8},
	"cruiser":   {MaxSpeed: 22, TurnRate: 8, FuelBurn: 0.09, SensorRange: 8000, WeaponRange: 2000, Torpedoes: 16},
	"freighter": {MaxSpeed: 12, TurnRate: 4, FuelBurn: 0.04, SensorRange: 2500, WeaponRange: 0, Torpedoes: 0},
	"scout":     {MaxSpeed: 45, TurnRate: 20, FuelBurn: 0.05, SensorRange: 12000, WeaponRange: 600, Torpedoes: 2},
}

type WeaponsState struct {
	Target    ShipID  `msgpack:"target" json:"target"`
	Charge    float64 `msgpack:"charge" json:"charge"` // 0..1, recharges between shots
	Torpedoes int     `msgpack:"torpedoes" json:"torpedoes"`
	Range     float64 `msgpack:"range" json:"range"`
}

type ShieldsState struct {
	Up       bool    `msgpack:"up" json:"up"`
	Strength float64 `msgpack:"strength" json:"strength"` // 0..100
}

type Contact struct {
	ID       ShipID     `msgpack:"id" json:"id"`
	Name     string     `msgpack:"name" json:"name"`
	Position [2]float64 `msgpack:"position" json:"position"`
	Distance float64    `msgpack:"distance" json:"distance"`
	Bearing  float64    `msgpack:"bearing" json:"bearing"`
}

type SensorsState struct {
	Range    float64   `msgpack:"range" json:"range"`
	Contacts []Contact `msgpack:"contacts" json:"contacts"`
}

// SystemState tracks one ship system. Power is the commanded allocation,
// Health degrades with damage and recovers under repair.
type SystemState struct {
	Power  float64 `msgpack:"power" json:"power"`   // 0..1
	Health float64 `msgpack:"health" json:"health"` // 0..100
}

type CommMessage struct {
	From ShipID    `msgpack:"from" json:"from"`
	Text string    `msgpack:"text" json:"text"`
	Time time.Time `msgpack:"time" json:"time"`
}

// Systems every ship carries; station catalog required-systems names must
// come from this set.
var shipSystems = []string{"reactor", "engines", "navigation", "weapons", "shields", "sensors", "comms"}

// Ship is the authoritative simulation state for one vessel. All access
// is serialized through the owning Sim's mutex.
type Ship struct {
	ID    ShipID
	Name  string
	Class string

	Position    [2]float64
	Velocity    [2]float64
	Heading     float64 // current orientation, degrees
	Course      float64 // commanded heading, degrees
	Thrust      float64 // commanded thrust, 0..1
	Fuel        float64 // 0..100
	NavMode     NavMode
	Alert       AlertLevel
	Weapons     WeaponsState
	Shields     ShieldsState
	Sensors     SensorsState
	Systems     map[string]*SystemState
	Comms       []CommMessage
	underRepair string // system currently being repaired, or ""
}

func newShip(id ShipID, name, class string, position [2]float64, heading, fuel float64) *Ship {
	sc := shipClasses[class]

	systems := make(map[string]*SystemState)
	for _, name := range shipSystems {
		systems[name] = &SystemState{Power: 1, Health: 100}
	}

	return &Ship{
		ID:       id,
		Name:     name,
		Class:    class,
		Position: position,
		Heading:  heading,
		Course:   heading,
		Fuel:     fuel,
		NavMode:  NavManual,
		Alert:    AlertGreen,
		Weapons:  WeaponsState{Charge: 1, Torpedoes: sc.Torpedoes, Range: sc.WeaponRange},
		Shields:  ShieldsState{Strength: 100},
		Sensors:  SensorsState{Range: sc.SensorRange},
		Systems:  systems,
	}
}

func (sh *Ship) class() shipClass {
	return shipClasses[sh.Class]
}

// systemEffectiveness scales a system's output by both its health and its
// commanded power level.
func (sh *Ship) systemEffectiveness(name string) float64 {
	sys, ok := sh.Systems[name]
	if !ok {
		return 0
	}
	return sys.Power * sys.Health / 100
}

///////////////////////////////////////////////////////////////////////////
// Snapshots

// Snapshot is a complete copy of one ship's observable state at an
// instant. It shares no storage with the live Ship; filtering and wire
// encoding operate on it freely without affecting the simulation.
type Snapshot struct {
	ID          ShipID                  `msgpack:"id" json:"id"`
	Name        string                  `msgpack:"name" json:"name"`
	Class       string                  `msgpack:"class" json:"class"`
	Generation  int                     `msgpack:"generation" json:"generation"`
	Position    [2]float64              `msgpack:"position" json:"position"`
	Velocity    [2]float64              `msgpack:"velocity" json:"velocity"`
	Orientation float64                 `msgpack:"orientation" json:"orientation"`
	Fuel        float64                 `msgpack:"fuel" json:"fuel"`
	NavMode     string                  `msgpack:"nav_mode" json:"nav_mode"`
	Alert       string                  `msgpack:"alert" json:"alert"`
	Weapons     WeaponsState            `msgpack:"weapons" json:"weapons"`
	Shields     ShieldsState            `msgpack:"shields" json:"shields"`
	Sensors     SensorsState            `msgpack:"sensors" json:"sensors"`
	Systems     map[string]*SystemState `msgpack:"systems" json:"systems"`
	Comms       []CommMessage           `msgpack:"comms" json:"comms"`
}

// Fields returns the snapshot keyed by wire-level field name, as consumed
// by the telemetry filter. The identity fields (id, name, class,
// generation) are not included; the filter adds the ones every station
// sees.
func (s *Snapshot) Fields() map[string]any {
	return map[string]any{
		"position":    s.Position,
		"velocity":    s.Velocity,
		"orientation": s.Orientation,
		"fuel":        s.Fuel,
		"nav_mode":    s.NavMode,
		"alert":       s.Alert,
		"weapons":     s.Weapons,
		"shields":     s.Shields,
		"sensors":     s.Sensors,
		"systems":     s.Systems,
		"comms":       s.Comms,
	}
}
