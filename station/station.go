// station/station.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package station defines the closed set of bridge stations, the
// permission ordering for their operators, and the static catalog that
// maps each station to the commands it may issue, the telemetry fields it
// may observe, and the ship systems it needs. Adding a station is adding a
// row to the catalog table; nothing here is subclassed or overridden.
package station

import (
	"slices"
	"strings"

	"github.com/bridgesim/bridgesim/util"
)

// Type identifies a bridge station. Values are the wire-level names used
// in claim_station requests.
type Type string

const (
	Captain     Type = "captain"
	Helm        Type = "helm"
	Tactical    Type = "tactical"
	Ops         Type = "ops"
	Engineering Type = "engineering"
	Comms       Type = "comms"
)

// Parse returns the station for a wire-level name, or false for a name
// outside the closed set. Matching is case-insensitive.
func Parse(s string) (Type, bool) {
	t := Type(strings.ToLower(s))
	if _, ok := catalog[t]; !ok {
		return "", false
	}
	return t, true
}

// All returns the stations in catalog order.
func All() []Type {
	return util.SortedMapKeys(catalog)
}

// PermissionLevel orders operator authority. It is carried on sessions for
// future override rules; command authorization today derives entirely from
// the claimed station.
type PermissionLevel int

const (
	Observer PermissionLevel = iota
	Crew
	Officer
	Command
)

func (p PermissionLevel) String() string {
	switch p {
	case Observer:
		return "observer"
	case Crew:
		return "crew"
	case Officer:
		return "officer"
	case Command:
		return "command"
	}
	return "unknown"
}

// Definition is one row of the station catalog.
type Definition struct {
	// Commands the station may issue. Nil with AllCommands set means the
	// station is unrestricted (the captain).
	Commands    []string
	AllCommands bool

	// Snapshot fields the station may observe. The ship id is always
	// included and is not listed here.
	DisplayFields []string

	// Ship systems the station needs operational to do its job; surfaced
	// in station_status so crews can see why a console is degraded.
	RequiredSystems []string
}

var catalog = map[Type]Definition{
	Captain: {
		AllCommands:   true,
		DisplayFields: nil, // unrestricted; sees the full snapshot
	},
	Helm: {
		Commands:        []string{"set_thrust", "set_course", "all_stop", "set_nav_mode"},
		DisplayFields:   []string{"position", "velocity", "orientation", "fuel", "nav_mode"},
		RequiredSystems: []string{"engines", "navigation"},
	},
	Tactical: {
		Commands:        []string{"fire", "set_target", "raise_shields", "lower_shields"},
		DisplayFields:   []string{"position", "orientation", "weapons", "shields", "alert"},
		RequiredSystems: []string{"weapons", "shields"},
	},
	Ops: {
		Commands:        []string{"scan", "plot_course", "set_alert"},
		DisplayFields:   []string{"position", "sensors", "nav_mode", "alert"},
		RequiredSystems: []string{"sensors"},
	},
	Engineering: {
		Commands:        []string{"set_power", "repair"},
		DisplayFields:   []string{"systems", "fuel", "shields"},
		RequiredSystems: []string{"reactor"},
	},
	Comms: {
		Commands:        []string{"send_message", "hail"},
		DisplayFields:   []string{"comms", "alert"},
		RequiredSystems: []string{"comms"},
	},
}

// commandOwner is derived from the catalog at init time; the catalog
// assumes a single owning station per command, and Ownership checks it.
var commandOwner = func() map[string]Type {
	owner := make(map[string]Type)
	for t, def := range catalog {
		for _, cmd := range def.Commands {
			if prev, ok := owner[cmd]; ok {
				panic("command " + cmd + " owned by both " + string(prev) + " and " + string(t))
			}
			owner[cmd] = t
		}
	}
	return owner
}()

// Get returns the catalog row for a station; ok is false for unknown
// stations.
func Get(t Type) (Definition, bool) {
	def, ok := catalog[t]
	return def, ok
}

// CommandsFor returns the commands a station may issue, sorted. The
// captain's set is unrestricted and reported as every cataloged command.
func CommandsFor(t Type) []string {
	def, ok := catalog[t]
	if !ok {
		return nil
	}
	if def.AllCommands {
		cmds := util.SortedMapKeys(commandOwner)
		return cmds
	}
	cmds := slices.Clone(def.Commands)
	slices.Sort(cmds)
	return cmds
}

// Owning returns the station that owns the given command. Commands have a
// single owning station; the captain's wildcard does not make it the
// owner.
func Owning(command string) (Type, bool) {
	t, ok := commandOwner[command]
	return t, ok
}

// IsAllowed reports whether the station may issue the command.
func IsAllowed(t Type, command string) bool {
	def, ok := catalog[t]
	if !ok {
		return false
	}
	if def.AllCommands {
		_, known := commandOwner[command]
		return known
	}
	return slices.Contains(def.Commands, command)
}

// DisplayFieldsFor returns the snapshot fields visible to the station.
// The empty slice with full=true means the station is unrestricted.
func DisplayFieldsFor(t Type) (fields []string, full bool) {
	def, ok := catalog[t]
	if !ok {
		return nil, false
	}
	if def.AllCommands {
		return nil, true
	}
	return slices.Clone(def.DisplayFields), false
}

// RequiredSystemsFor returns the ship systems the station depends on.
func RequiredSystemsFor(t Type) []string {
	def, ok := catalog[t]
	if !ok {
		return nil
	}
	return slices.Clone(def.RequiredSystems)
}
