// sim/sim.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package sim runs the tick-based vessel simulation: it owns the
// authoritative state of every ship in the scenario, applies commands
// forwarded by the server's dispatcher, and produces per-ship snapshots
// for telemetry.
package sim

import (
	gomath "math"
	"sort"
	"time"

	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/util"

	"github.com/brunoga/deep"
	lru "github.com/hashicorp/golang-lru/v2"
)

type Sim struct {
	mu util.LoggingMutex

	ships map[ShipID]*Ship

	eventStream *EventStream

	// generation increments on every Update; snapshots record the
	// generation they were taken at so repeated reads within one tick can
	// be served from the cache.
	generation int

	simTime     time.Time
	lastUpdate  time.Time
	lastCommand time.Time

	snapCache *lru.Cache[snapKey, *Snapshot]

	lg *log.Logger
}

type snapKey struct {
	ship       ShipID
	generation int
}

func NewSim(scenario *Scenario, lg *log.Logger) *Sim {
	s := &Sim{
		ships:       make(map[ShipID]*Ship),
		eventStream: NewEventStream(lg),
		simTime:     time.Now(),
		lastUpdate:  time.Now(),
		lastCommand: time.Now(),
		lg:          lg,
	}

	// Large enough for every ship in the fleet across a couple of
	// generations of in-flight reads.
	s.snapCache, _ = lru.New[snapKey, *Snapshot](64)

	for _, sc := range scenario.Ships {
		s.ships[sc.ID] = newShip(sc.ID, sc.Name, sc.Class, sc.Position, sc.Heading, sc.Fuel)
	}

	return s
}

func (s *Sim) Events() *EventStream {
	return s.eventStream
}

func (s *Sim) PostEvent(e Event) {
	s.eventStream.Post(e)
}

func (s *Sim) Destroy() {
	s.eventStream.Destroy()
}

// IdleTime returns how long it has been since any client issued a
// command; the server uses it for the status page.
func (s *Sim) IdleTime() time.Duration {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)
	return time.Since(s.lastCommand)
}

// ShipIDs returns the ids of all ships in the scenario, sorted.
func (s *Sim) ShipIDs() []ShipID {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	return util.SortedMapKeys(s.ships)
}

// HasShip reports whether a ship with the given id is in the scenario.
func (s *Sim) HasShip(id ShipID) bool {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	_, ok := s.ships[id]
	return ok
}

// ShipInfo is the per-ship summary returned for list_ships.
type ShipInfo struct {
	ID    ShipID `msgpack:"id" json:"id"`
	Name  string `msgpack:"name" json:"name"`
	Class string `msgpack:"class" json:"class"`
}

func (s *Sim) Ships() []ShipInfo {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	var info []ShipInfo
	for _, id := range util.SortedMapKeys(s.ships) {
		sh := s.ships[id]
		info = append(info, ShipInfo{ID: sh.ID, Name: sh.Name, Class: sh.Class})
	}
	return info
}

///////////////////////////////////////////////////////////////////////////
// Simulation update

// Update advances the simulation by the wall-clock time since the last
// call. The server drives this from its update loop; commands and
// snapshot reads interleave freely with it under the Sim mutex.
func (s *Sim) Update() {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	now := time.Now()
	dt := now.Sub(s.lastUpdate).Seconds()
	if dt <= 0 {
		return
	}
	s.lastUpdate = now
	s.simTime = s.simTime.Add(time.Duration(dt * float64(time.Second)))

	for _, sh := range s.ships {
		s.updateShip(sh, dt)
	}
	s.updateContacts()

	s.generation++
}

func (s *Sim) updateShip(sh *Ship, dt float64) {
	sc := sh.class()
	engines := sh.systemEffectiveness("engines")

	// Turn toward the commanded course.
	turn := sc.TurnRate * engines * dt
	diff := normalizeHeading(sh.Course - sh.Heading)
	if diff > 180 {
		diff -= 360
	}
	if gomath.Abs(diff) <= turn {
		sh.Heading = sh.Course
	} else if diff > 0 {
		sh.Heading = normalizeHeading(sh.Heading + turn)
	} else {
		sh.Heading = normalizeHeading(sh.Heading - turn)
	}

	// Thrust gives speed directly; bridge crews have enough to do without
	// inertia.
	thrust := sh.Thrust
	if sh.Fuel <= 0 {
		thrust = 0
	}
	speed := thrust * sc.MaxSpeed * engines
	h := sh.Heading * gomath.Pi / 180
	sh.Velocity = [2]float64{speed * gomath.Sin(h), speed * gomath.Cos(h)}
	sh.Position[0] += sh.Velocity[0] * dt
	sh.Position[1] += sh.Velocity[1] * dt

	sh.Fuel = gomath.Max(0, sh.Fuel-sc.FuelBurn*thrust*dt)

	// Weapons recharge and shields regenerate, scaled by their systems.
	if sc.WeaponRange > 0 {
		sh.Weapons.Charge = gomath.Min(1, sh.Weapons.Charge+dt/10*sh.systemEffectiveness("weapons"))
	}
	if sh.Shields.Up {
		sh.Shields.Strength = gomath.Min(100, sh.Shields.Strength+2*dt*sh.systemEffectiveness("shields"))
	}

	// Repairs proceed one system at a time.
	if sh.underRepair != "" {
		if sys, ok := sh.Systems[sh.underRepair]; ok {
			sys.Health = gomath.Min(100, sys.Health+5*dt)
			if sys.Health >= 100 {
				s.eventStream.Post(Event{
					Type:        StatusMessageEvent,
					Ship:        sh.ID,
					WrittenText: sh.underRepair + " repairs complete",
				})
				sh.underRepair = ""
			}
		} else {
			sh.underRepair = ""
		}
	}
}

// updateContacts refreshes every ship's passive sensor contacts from the
// current positions of the rest of the fleet.
func (s *Sim) updateContacts() {
	for _, sh := range s.ships {
		rng := sh.Sensors.Range * sh.systemEffectiveness("sensors")
		var contacts []Contact
		for _, other := range s.ships {
			if other.ID == sh.ID {
				continue
			}
			d := distance(sh.Position, other.Position)
			if d > rng {
				continue
			}
			contacts = append(contacts, Contact{
				ID:       other.ID,
				Name:     other.Name,
				Position: other.Position,
				Distance: d,
				Bearing:  bearing(sh.Position, other.Position),
			})
		}
		sort.Slice(contacts, func(i, j int) bool { return contacts[i].Distance < contacts[j].Distance })
		sh.Sensors.Contacts = contacts
	}
}

///////////////////////////////////////////////////////////////////////////
// Snapshots

// GetSnapshot returns a copy of the ship's current observable state. The
// result shares no storage with the simulation; callers must still treat
// it as read-only since reads within one tick may be served from a shared
// cache entry.
func (s *Sim) GetSnapshot(id ShipID) (*Snapshot, error) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	sh, ok := s.ships[id]
	if !ok {
		return nil, ErrUnknownShip
	}

	key := snapKey{ship: id, generation: s.generation}
	if snap, ok := s.snapCache.Get(key); ok {
		return snap, nil
	}

	snap := &Snapshot{
		ID:          sh.ID,
		Name:        sh.Name,
		Class:       sh.Class,
		Generation:  s.generation,
		Position:    sh.Position,
		Velocity:    sh.Velocity,
		Orientation: sh.Heading,
		Fuel:        sh.Fuel,
		NavMode:     string(sh.NavMode),
		Alert:       string(sh.Alert),
		Weapons:     sh.Weapons,
		Shields:     sh.Shields,
		Sensors:     deep.MustCopy(sh.Sensors),
		Systems:     deep.MustCopy(sh.Systems),
		Comms:       deep.MustCopy(sh.Comms),
	}
	s.snapCache.Add(key, snap)

	return snap, nil
}

///////////////////////////////////////////////////////////////////////////
// Geometry helpers

func normalizeHeading(h float64) float64 {
	h = gomath.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func distance(a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	return gomath.Sqrt(dx*dx + dy*dy)
}

// bearing returns the compass bearing from a to b, degrees clockwise from
// +y.
func bearing(a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	return normalizeHeading(gomath.Atan2(dx, dy) * 180 / gomath.Pi)
}
