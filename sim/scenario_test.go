// sim/scenario_test.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"strings"
	"testing"

	"github.com/bridgesim/bridgesim/util"
)

func TestParseScenario(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		errContains string
	}{
		{
			name: "valid",
			json: `{"name": "patrol", "ships": [
				{"id": "a", "name": "A", "class": "frigate", "position": [0, 0], "heading": 90, "fuel": 100}]}`,
		},
		{
			name:        "missing name",
			json:        `{"ships": [{"id": "a", "name": "A", "class": "frigate", "fuel": 50}]}`,
			errContains: "\"name\" must be given",
		},
		{
			name:        "no ships",
			json:        `{"name": "empty", "ships": []}`,
			errContains: "at least one ship",
		},
		{
			name: "duplicate ship id",
			json: `{"name": "dupe", "ships": [
				{"id": "a", "name": "A", "class": "frigate", "fuel": 50},
				{"id": "a", "name": "B", "class": "cruiser", "fuel": 50}]}`,
			errContains: "duplicate ship id",
		},
		{
			name:        "unknown class",
			json:        `{"name": "bad", "ships": [{"id": "a", "name": "A", "class": "dreadnought", "fuel": 50}]}`,
			errContains: "unknown ship class",
		},
		{
			name:        "heading out of range",
			json:        `{"name": "bad", "ships": [{"id": "a", "name": "A", "class": "frigate", "heading": 360, "fuel": 50}]}`,
			errContains: "heading",
		},
		{
			name:        "duplicate JSON key",
			json:        `{"name": "dupe", "name": "dupe2", "ships": [{"id": "a", "name": "A", "class": "frigate", "fuel": 50}]}`,
			errContains: "duplicate JSON keys",
		},
		{
			name:        "syntax error",
			json:        `{"name": "broken", "ships": [`,
			errContains: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseScenario([]byte(tt.json), tt.name+".json")
			if tt.name == "valid" {
				if err != nil {
					t.Fatalf("parseScenario: %v", err)
				}
				if s.Name != "patrol" || len(s.Ships) != 1 {
					t.Errorf("scenario = %+v", s)
				}
				return
			}
			if err == nil {
				t.Fatalf("parseScenario: expected error")
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not mention %q", err, tt.errContains)
			}
		})
	}
}

func TestDefaultScenario(t *testing.T) {
	s := DefaultScenario()

	var e util.ErrorLogger
	s.PostDeserialize(&e)
	if e.HaveErrors() {
		t.Errorf("default scenario invalid: %s", e.String())
	}
}
