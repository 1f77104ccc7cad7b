// server/errors.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"errors"

	"github.com/bridgesim/bridgesim/sim"
)

var (
	ErrAlreadyHoldingStation = errors.New("Client already holds a station on this ship")
	ErrInvalidPassword       = errors.New("Invalid password")
	ErrMalformedMessage      = errors.New("Malformed message")
	ErrNoActiveClaim         = errors.New("No station claimed")
	ErrNotAssignedToShip     = errors.New("Client is not assigned to a ship")
	ErrNotCaptain            = errors.New("Only the captain may do that")
	ErrPermissionDenied      = errors.New("Permission denied")
	ErrServerDisconnected    = errors.New("Server disconnected")
	ErrStationAlreadyClaimed = errors.New("Station is already claimed")
	ErrStationNotClaimed     = errors.New("Station is not currently claimed")
	ErrStationNotSpecified   = errors.New("Multiple stations held; the station to release must be given")
	ErrUnknownClient         = errors.New("Unknown client token")
	ErrUnknownStation        = errors.New("No station with that name")
)

var errorStringToError = map[string]error{
	sim.ErrInvalidCommandArgs.Error(): sim.ErrInvalidCommandArgs,
	sim.ErrNoTargetSet.Error():        sim.ErrNoTargetSet,
	sim.ErrNoWeapons.Error():          sim.ErrNoWeapons,
	sim.ErrOutOfTorpedoes.Error():     sim.ErrOutOfTorpedoes,
	sim.ErrTargetOutOfRange.Error():   sim.ErrTargetOutOfRange,
	sim.ErrUnknownCommand.Error():     sim.ErrUnknownCommand,
	sim.ErrUnknownShip.Error():        sim.ErrUnknownShip,
	sim.ErrUnknownSystem.Error():      sim.ErrUnknownSystem,
	sim.ErrWeaponsNotCharged.Error():  sim.ErrWeaponsNotCharged,

	ErrAlreadyHoldingStation.Error(): ErrAlreadyHoldingStation,
	ErrInvalidPassword.Error():       ErrInvalidPassword,
	ErrMalformedMessage.Error():      ErrMalformedMessage,
	ErrNoActiveClaim.Error():         ErrNoActiveClaim,
	ErrNotAssignedToShip.Error():     ErrNotAssignedToShip,
	ErrNotCaptain.Error():            ErrNotCaptain,
	ErrPermissionDenied.Error():      ErrPermissionDenied,
	ErrServerDisconnected.Error():    ErrServerDisconnected,
	ErrStationAlreadyClaimed.Error(): ErrStationAlreadyClaimed,
	ErrStationNotClaimed.Error():     ErrStationNotClaimed,
	ErrStationNotSpecified.Error():   ErrStationNotSpecified,
	ErrUnknownClient.Error():         ErrUnknownClient,
	ErrUnknownStation.Error():        ErrUnknownStation,
}

// TryDecodeError rehydrates sentinel errors that crossed the wire as
// strings so that clients can use errors.Is against them.
func TryDecodeError(e error) error {
	if e == nil {
		return e
	}
	if err, ok := errorStringToError[e.Error()]; ok {
		return err
	}
	return e
}

func TryDecodeErrorString(s string) error {
	if err, ok := errorStringToError[s]; ok {
		return err
	}
	return nil
}
