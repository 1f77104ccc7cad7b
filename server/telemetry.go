// server/telemetry.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"github.com/bridgesim/bridgesim/sim"
	"github.com/bridgesim/bridgesim/station"
)

// TelemetryFilter narrows ship snapshots to what each client's station is
// entitled to see. Clients with no claim get the ship id only; the
// captain sees everything; everyone else gets exactly their station's
// display fields.
type TelemetryFilter struct {
	manager *StationManager
}

func NewTelemetryFilter(manager *StationManager) *TelemetryFilter {
	return &TelemetryFilter{manager: manager}
}

// FilterForClient builds a fresh field map from the snapshot for the
// given client. The snapshot is never mutated; when multiple stations
// are held the result is the union of their display fields.
func (tf *TelemetryFilter) FilterForClient(token string, snap *sim.Snapshot) map[string]any {
	fields := map[string]any{"id": string(snap.ID)}

	all := snap.Fields()
	for _, st := range tf.manager.ClaimedStations(token) {
		names, full := station.DisplayFieldsFor(st)
		if full {
			for k, v := range all {
				fields[k] = v
			}
			return fields
		}
		for _, name := range names {
			if v, ok := all[name]; ok {
				fields[name] = v
			}
		}
	}
	return fields
}
