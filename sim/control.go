// sim/control.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	gomath "math"
	"math/rand/v2"
	"strconv"
	"time"
)

// Execute applies a station command to the named ship and returns its
// response payload, if any. Permission checks happen upstream in the
// server's dispatcher; by the time a command reaches here it is only
// validated against the simulation state.
func (s *Sim) Execute(ship ShipID, cmd string, args map[string]any) (any, error) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	sh, ok := s.ships[ship]
	if !ok {
		return nil, ErrUnknownShip
	}
	s.lastCommand = time.Now()

	s.lg.Infof("%s: execute %s %v", ship, cmd, args)

	switch cmd {
	// Helm
	case "set_thrust":
		t, err := argFloat(args, "thrust")
		if err != nil {
			return nil, err
		}
		if t < 0 || t > 1 {
			return nil, ErrInvalidCommandArgs
		}
		sh.Thrust = t
		sh.NavMode = NavManual
		return nil, nil

	case "set_course":
		h, err := argFloat(args, "heading")
		if err != nil {
			return nil, err
		}
		sh.Course = normalizeHeading(h)
		sh.NavMode = NavManual
		return nil, nil

	case "all_stop":
		sh.Thrust = 0
		sh.NavMode = NavManual
		return nil, nil

	case "set_nav_mode":
		m, err := argString(args, "mode")
		if err != nil {
			return nil, err
		}
		switch NavMode(m) {
		case NavManual, NavAutopilot, NavDocking:
			sh.NavMode = NavMode(m)
		default:
			return nil, ErrInvalidCommandArgs
		}
		return nil, nil

	// Tactical
	case "set_target":
		t, err := argString(args, "target")
		if err != nil {
			return nil, err
		}
		if _, ok := s.ships[ShipID(t)]; !ok {
			return nil, ErrUnknownShip
		}
		sh.Weapons.Target = ShipID(t)
		return nil, nil

	case "fire":
		return s.fire(sh)

	case "raise_shields":
		sh.Shields.Up = true
		return nil, nil

	case "lower_shields":
		sh.Shields.Up = false
		return nil, nil

	// Ops
	case "scan":
		return s.scan(sh, args)

	case "plot_course":
		return s.plotCourse(sh, args)

	case "set_alert":
		lvl, err := argString(args, "level")
		if err != nil {
			return nil, err
		}
		switch AlertLevel(lvl) {
		case AlertGreen, AlertYellow, AlertRed:
			sh.Alert = AlertLevel(lvl)
		default:
			return nil, ErrInvalidCommandArgs
		}
		s.eventStream.Post(Event{Type: AlertChangedEvent, Ship: sh.ID, WrittenText: lvl})
		return nil, nil

	// Engineering
	case "set_power":
		sys, err := argString(args, "system")
		if err != nil {
			return nil, err
		}
		p, err := argFloat(args, "power")
		if err != nil {
			return nil, err
		}
		st, ok := sh.Systems[sys]
		if !ok {
			return nil, ErrUnknownSystem
		}
		if p < 0 || p > 1 {
			return nil, ErrInvalidCommandArgs
		}
		st.Power = p
		return nil, nil

	case "repair":
		sys, err := argString(args, "system")
		if err != nil {
			return nil, err
		}
		if _, ok := sh.Systems[sys]; !ok {
			return nil, ErrUnknownSystem
		}
		sh.underRepair = sys
		return nil, nil

	// Comms
	case "send_message":
		return nil, s.sendMessage(sh, args)

	case "hail":
		return nil, s.hail(sh, args)

	default:
		return nil, ErrUnknownCommand
	}
}

func (s *Sim) fire(sh *Ship) (any, error) {
	sc := sh.class()
	if sc.WeaponRange == 0 {
		return nil, ErrNoWeapons
	}
	if sh.Weapons.Target == "" {
		return nil, ErrNoTargetSet
	}
	target, ok := s.ships[sh.Weapons.Target]
	if !ok {
		return nil, ErrUnknownShip
	}
	if sh.Weapons.Charge < 1 {
		return nil, ErrWeaponsNotCharged
	}
	if sh.Weapons.Torpedoes <= 0 {
		return nil, ErrOutOfTorpedoes
	}
	if distance(sh.Position, target.Position) > sc.WeaponRange*sh.systemEffectiveness("weapons") {
		return nil, ErrTargetOutOfRange
	}

	sh.Weapons.Charge = 0
	sh.Weapons.Torpedoes--

	s.eventStream.Post(Event{Type: WeaponsFiredEvent, Ship: sh.ID, ToShip: target.ID})

	var hit string
	if target.Shields.Up && target.Shields.Strength > 0 {
		target.Shields.Strength = gomath.Max(0, target.Shields.Strength-25)
		hit = "shields"
	} else {
		// An unshielded hit damages a random system.
		names := orderedSystemNames(target)
		hit = names[rand.IntN(len(names))]
		sys := target.Systems[hit]
		sys.Health = gomath.Max(0, sys.Health-30)
	}
	s.eventStream.Post(Event{Type: DamageEvent, Ship: target.ID, ToShip: sh.ID, WrittenText: hit})

	return map[string]any{"hit": hit, "torpedoes_remaining": sh.Weapons.Torpedoes}, nil
}

func (s *Sim) scan(sh *Ship, args map[string]any) (any, error) {
	t, err := argString(args, "target")
	if err != nil {
		return nil, err
	}
	target, ok := s.ships[ShipID(t)]
	if !ok {
		return nil, ErrUnknownShip
	}
	d := distance(sh.Position, target.Position)
	if d > sh.Sensors.Range*sh.systemEffectiveness("sensors") {
		return nil, ErrTargetOutOfRange
	}

	// An active scan sees more than the passive contact list does.
	return map[string]any{
		"id":       string(target.ID),
		"name":     target.Name,
		"class":    target.Class,
		"position": target.Position,
		"heading":  target.Heading,
		"distance": d,
		"bearing":  bearing(sh.Position, target.Position),
		"shields":  target.Shields,
		"alert":    string(target.Alert),
	}, nil
}

func (s *Sim) plotCourse(sh *Ship, args map[string]any) (any, error) {
	x, err := argFloat(args, "x")
	if err != nil {
		return nil, err
	}
	y, err := argFloat(args, "y")
	if err != nil {
		return nil, err
	}

	dest := [2]float64{x, y}
	d := distance(sh.Position, dest)
	h := bearing(sh.Position, dest)

	// ETA assumes full thrust at current engine effectiveness.
	speed := sh.class().MaxSpeed * sh.systemEffectiveness("engines")
	eta := gomath.Inf(1)
	if speed > 0 {
		eta = d / speed
	}

	return map[string]any{"heading": h, "distance": d, "eta_seconds": eta}, nil
}

func (s *Sim) sendMessage(sh *Ship, args map[string]any) error {
	t, err := argString(args, "target")
	if err != nil {
		return err
	}
	text, err := argString(args, "text")
	if err != nil {
		return err
	}
	target, ok := s.ships[ShipID(t)]
	if !ok {
		return ErrUnknownShip
	}

	target.Comms = append(target.Comms, CommMessage{From: sh.ID, Text: text, Time: s.simTime})
	s.eventStream.Post(Event{Type: MessageReceivedEvent, Ship: target.ID, ToShip: sh.ID, WrittenText: text})
	return nil
}

func (s *Sim) hail(sh *Ship, args map[string]any) error {
	t, err := argString(args, "target")
	if err != nil {
		return err
	}
	target, ok := s.ships[ShipID(t)]
	if !ok {
		return ErrUnknownShip
	}

	s.eventStream.Post(Event{Type: HailEvent, Ship: target.ID, ToShip: sh.ID})
	return nil
}

func orderedSystemNames(sh *Ship) []string {
	// shipSystems is already in a fixed order; filter to the ones this
	// ship actually has.
	var names []string
	for _, n := range shipSystems {
		if _, ok := sh.Systems[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

///////////////////////////////////////////////////////////////////////////
// Argument decoding

// Command arguments arrive as map[string]any from the msgpack decoder, so
// numbers may show up as any integer or float type depending on how the
// client encoded them.
func argFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, ErrInvalidCommandArgs
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, nil
		}
	}
	return 0, ErrInvalidCommandArgs
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", ErrInvalidCommandArgs
	}
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrInvalidCommandArgs
}
