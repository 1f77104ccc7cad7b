// sim/errors.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import "errors"

var (
	ErrInvalidCommandArgs = errors.New("Invalid command arguments")
	ErrNoTargetSet        = errors.New("No target set")
	ErrNoWeapons          = errors.New("Ship has no weapons")
	ErrOutOfTorpedoes     = errors.New("No torpedoes remaining")
	ErrTargetOutOfRange   = errors.New("Target is out of range")
	ErrUnknownCommand     = errors.New("Unknown command")
	ErrUnknownShip        = errors.New("No ship with that id")
	ErrUnknownSystem      = errors.New("No such ship system")
	ErrWeaponsNotCharged  = errors.New("Weapons are not charged")
)
