// server/dispatcher.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"fmt"
	"strings"

	"github.com/bridgesim/bridgesim/log"
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
)

// CommandResult is both the dispatcher's result and the wire response for
// every request: OK with an optional response payload, or a failure
// message with the connection left open.
type CommandResult struct {
	OK       bool   `msgpack:"ok" json:"ok"`
	Message  string `msgpack:"message,omitempty" json:"message,omitempty"`
	Response any    `msgpack:"response,omitempty" json:"response,omitempty"`
}

// CommandHandler executes one simulation command against a ship.
type CommandHandler func(ship sim.ShipID, args map[string]any) (any, error)

// Executor is what the dispatcher forwards approved commands to; the sim
// implements it.
type Executor interface {
	Execute(ship sim.ShipID, cmd string, args map[string]any) (any, error)
}

// PermissionDispatcher routes simulation commands to their handlers,
// admitting only clients whose claimed station owns the command. The
// handler table is built once at startup; Dispatch never mutates it.
type PermissionDispatcher struct {
	manager  *StationManager
	handlers map[string]commandEntry
	lg       *log.Logger
}

type commandEntry struct {
	owner   station.Type
	handler CommandHandler
}

func NewPermissionDispatcher(manager *StationManager, lg *log.Logger) *PermissionDispatcher {
	return &PermissionDispatcher{
		manager:  manager,
		handlers: make(map[string]commandEntry),
		lg:       lg,
	}
}

// RegisterCommandHandler binds a command to its owning station and
// handler. A command may have only one owner; a second registration is a
// startup bug and panics.
func (d *PermissionDispatcher) RegisterCommandHandler(cmd string, owner station.Type, handler CommandHandler) {
	if prev, ok := d.handlers[cmd]; ok {
		panic(fmt.Sprintf("command %q registered to both %s and %s", cmd, prev.owner, owner))
	}
	if own, ok := station.Owning(cmd); !ok || own != owner {
		panic(fmt.Sprintf("command %q not in the %s station's catalog entry", cmd, owner))
	}
	d.handlers[cmd] = commandEntry{owner: owner, handler: handler}
}

// RegisterExecutor registers every catalog command of every station
// against a single executor.
func (d *PermissionDispatcher) RegisterExecutor(ex Executor) {
	for _, st := range station.All() {
		if st == station.Captain {
			continue
		}
		for _, cmd := range station.CommandsFor(st) {
			cmd := cmd
			d.RegisterCommandHandler(cmd, st, func(ship sim.ShipID, args map[string]any) (any, error) {
				return ex.Execute(ship, cmd, args)
			})
		}
	}
}

// Dispatch authorizes and runs one simulation command for a client. An
// empty ship means the session's assigned ship; a non-empty ship must
// match it. On denial the handler is not invoked and the result carries
// the denial message; handler errors come back as failed results with
// the error's message. A denied command has no effect on simulation
// state.
func (d *PermissionDispatcher) Dispatch(token string, ship sim.ShipID, cmd string, args map[string]any) CommandResult {
	entry, ok := d.handlers[cmd]
	if !ok {
		return CommandResult{Message: sim.ErrUnknownCommand.Error()}
	}

	cs, err := d.manager.Session(token)
	if err != nil {
		return CommandResult{Message: err.Error()}
	}
	if ship != "" && ship != cs.Ship {
		return CommandResult{Message: ErrNotAssignedToShip.Error()}
	}

	assigned, err := d.manager.CanIssueCommand(token, cmd)
	if err == ErrPermissionDenied {
		return CommandResult{
			Message: fmt.Sprintf("Permission denied: Command '%s' requires %s station",
				cmd, strings.ToUpper(string(entry.owner))),
		}
	} else if err != nil {
		return CommandResult{Message: err.Error()}
	}

	response, err := entry.handler(assigned, args)
	if err != nil {
		return CommandResult{Message: err.Error()}
	}
	return CommandResult{OK: true, Response: response}
}
