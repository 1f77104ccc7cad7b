// util/generic_test.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"slices"
	"testing"
)

func TestSelect(t *testing.T) {
	if Select(true, 1, 2) != 1 {
		t.Errorf("Select true")
	}
	if Select(false, 1, 2) != 2 {
		t.Errorf("Select false")
	}
}

func TestSortedMapKeys(t *testing.T) {
	m := map[string]int{"helm": 1, "comms": 2, "ops": 3}
	if got := SortedMapKeys(m); !slices.Equal(got, []string{"comms", "helm", "ops"}) {
		t.Errorf("SortedMapKeys = %v", got)
	}
}

func TestSortedMap(t *testing.T) {
	m := map[int]string{3: "c", 1: "a", 2: "b"}
	var keys []int
	var values []string
	for k, v := range SortedMap(m) {
		keys = append(keys, k)
		values = append(values, v)
	}
	if !slices.Equal(keys, []int{1, 2, 3}) || !slices.Equal(values, []string{"a", "b", "c"}) {
		t.Errorf("SortedMap gave %v / %v", keys, values)
	}
}

func TestDuplicateMap(t *testing.T) {
	m := map[string]int{"a": 1, "b": 2}
	d := DuplicateMap(m)
	d["a"] = 10
	if m["a"] != 1 {
		t.Errorf("DuplicateMap shares storage")
	}
}

func TestMapSlice(t *testing.T) {
	got := MapSlice([]int{1, 2, 3}, func(i int) int { return i * i })
	if !slices.Equal(got, []int{1, 4, 9}) {
		t.Errorf("MapSlice = %v", got)
	}
}

func TestFilterSlice(t *testing.T) {
	got := FilterSlice([]int{1, 2, 3, 4, 5}, func(i int) bool { return i%2 == 0 })
	if !slices.Equal(got, []int{2, 4}) {
		t.Errorf("FilterSlice = %v", got)
	}
}

func TestByteCount(t *testing.T) {
	tests := []struct {
		b        ByteCount
		expected string
	}{
		{12, "12 B"},
		{2 * 1024, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := tt.b.String(); got != tt.expected {
			t.Errorf("ByteCount(%d) = %q, want %q", int64(tt.b), got, tt.expected)
		}
	}
}
