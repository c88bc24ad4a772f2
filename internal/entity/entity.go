// Package entity defines the discriminated identifiers and value scales
// shared by every part of the control engine. Brightness travels on three
// scales: 0.0-1.0 on the wire, 0-1000 internally (slider precision) and
// 0-100 for display. Conversion happens only at the system boundary.
package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates fixture ids from group ids.
type Kind string

// Entity kinds
const (
	KindFixture Kind = "fixture"
	KindGroup   Kind = "group"
)

// Axis identifies an independently debounced control axis.
type Axis string

// Control axes
const (
	AxisBrightness Axis = "brightness"
	AxisColorTemp  Axis = "color_temp"
)

// ID uniquely identifies a controllable entity. Maps are keyed by ID, never
// by the raw numeric id alone, so fixture and group ids cannot collide in
// shared structures.
type ID struct {
	Kind Kind
	Num  int64
}

// FixtureID returns the ID for a fixture.
func FixtureID(n int64) ID {
	return ID{Kind: KindFixture, Num: n}
}

// GroupID returns the ID for a group.
func GroupID(n int64) ID {
	return ID{Kind: KindGroup, Num: n}
}

// String renders the canonical "kind:num" form.
func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.Num)
}

// Parse parses the canonical "kind:num" form.
func Parse(s string) (ID, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, fmt.Errorf("invalid entity id %q: missing kind separator", s)
	}

	k := Kind(kind)
	if k != KindFixture && k != KindGroup {
		return ID{}, fmt.Errorf("invalid entity id %q: unknown kind %q", s, kind)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid entity id %q: %w", s, err)
	}

	return ID{Kind: k, Num: n}, nil
}

// WireToInternal converts wire brightness (0.0-1.0) to internal (0-1000).
func WireToInternal(v float64) int {
	return int(math.Round(clamp(v, 0, 1) * 1000))
}

// InternalToWire converts internal brightness (0-1000) to wire (0.0-1.0).
func InternalToWire(v int) float64 {
	return clamp(float64(v)/1000, 0, 1)
}

// InternalToDisplay converts internal brightness (0-1000) to display (0-100).
func InternalToDisplay(v int) float64 {
	return float64(v) / 10
}

// DisplayToInternal converts display brightness (0-100) to internal (0-1000).
func DisplayToInternal(v float64) int {
	return int(math.Round(clamp(v, 0, 100) * 10))
}

// DisplayToWire converts display brightness (0-100) to wire (0.0-1.0).
func DisplayToWire(v float64) float64 {
	return clamp(v, 0, 100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
