// sim/scenario.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"os"

	"github.com/bridgesim/bridgesim/util"
)

// Scenario describes the initial fleet. Scenario files are JSON; see
// DefaultScenario for the shape.
type Scenario struct {
	Name  string       `json:"name"`
	Ships []ShipConfig `json:"ships"`
}

type ShipConfig struct {
	ID       ShipID     `json:"id"`
	Name     string     `json:"name"`
	Class    string     `json:"class"`
	Position [2]float64 `json:"position"`
	Heading  float64    `json:"heading"`
	Fuel     float64    `json:"fuel"`
}

func (s *Scenario) PostDeserialize(e *util.ErrorLogger) {
	defer e.CheckDepth(e.CurrentDepth())

	if s.Name == "" {
		e.ErrorString("scenario \"name\" must be given")
	}
	if len(s.Ships) == 0 {
		e.ErrorString("scenario must have at least one ship")
	}

	seen := make(map[ShipID]interface{})
	for _, sc := range s.Ships {
		e.Push("Ship " + string(sc.ID))
		if sc.ID == "" {
			e.ErrorString("ship \"id\" must be given")
		}
		if _, ok := seen[sc.ID]; ok {
			e.ErrorString("duplicate ship id")
		}
		seen[sc.ID] = nil

		if _, ok := shipClasses[sc.Class]; !ok {
			e.ErrorString("unknown ship class %q; must be one of %v", sc.Class,
				util.SortedMapKeys(shipClasses))
		}
		if sc.Heading < 0 || sc.Heading >= 360 {
			e.ErrorString("heading %v must be in [0,360)", sc.Heading)
		}
		if sc.Fuel < 0 || sc.Fuel > 100 {
			e.ErrorString("fuel %v must be in [0,100]", sc.Fuel)
		}
		e.Pop()
	}
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScenario(b, path)
}

func parseScenario(b []byte, path string) (*Scenario, error) {
	if dupes := util.FindDuplicateJSONKeys(b); len(dupes) > 0 {
		return nil, fmt.Errorf("%s: duplicate JSON keys: %v", path, dupes)
	}

	var s Scenario
	if err := util.UnmarshalJSONBytes(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var e util.ErrorLogger
	s.PostDeserialize(&e)
	if e.HaveErrors() {
		return nil, fmt.Errorf("%s: %s", path, e.String())
	}

	return &s, nil
}

// DefaultScenario is used when no scenario file is given: a small fleet
// with one of each combat-capable class plus a freighter to practice
// escort duty on.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name: "Patrol",
		Ships: []ShipConfig{
			{ID: "artemis", Name: "BSS Artemis", Class: "cruiser", Position: [2]float64{0, 0}, Heading: 0, Fuel: 100},
			{ID: "dauntless", Name: "BSS Dauntless", Class: "frigate", Position: [2]float64{1500, 500}, Heading: 270, Fuel: 100},
			{ID: "hermes", Name: "SS Hermes", Class: "freighter", Position: [2]float64{-2000, 3000}, Heading: 135, Fuel: 80},
			{ID: "vigil", Name: "BSS Vigil", Class: "scout", Position: [2]float64{4000, -1000}, Heading: 45, Fuel: 100},
		},
	}
}
