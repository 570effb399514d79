package main

import (
	"path"
	"strings"
)

// LineFilter is an allow-list of line patterns. Patterns use shell
// wildcards (60, 6*, 65?); an empty filter matches every line.
type LineFilter []string

// Match reports whether line is allowed by the filter.
func (f LineFilter) Match(line string) bool {
	if len(f) == 0 {
		return true
	}
	for _, pattern := range f {
		if pattern == line {
			return true
		}
		if ok, err := path.Match(pattern, line); err == nil && ok {
			return true
		}
	}
	return false
}

// String renders the filter the way the upstream lineRef parameter expects it.
func (f LineFilter) String() string { return strings.Join(f, ",") }

// FilterVehicles returns the records whose line passes f, in input order.
// With an empty filter the input is returned unchanged.
func FilterVehicles(in []VehicleRecord, f LineFilter) []VehicleRecord {
	if len(f) == 0 {
		return in
	}
	out := make([]VehicleRecord, 0, len(in))
	for _, v := range in {
		if f.Match(v.Line) {
			out = append(out, v)
		}
	}
	return out
}
