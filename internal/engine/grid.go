package engine

import "strings"

// Weekdays lists the school days of the grid in order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

// Slot is a zero-based (day, period) coordinate.
type Slot struct {
	Day    int
	Period int
}

// Grid is the fixed set of assignable positions shared by every stream of a school.
type Grid struct {
	SchoolType    string
	Days          []string
	PeriodsPerDay int
}

// NewGrid derives the grid for a school type. Unknown or empty types fall back to
// defaultType; if that is also unknown the largest configured period count is used.
func NewGrid(schoolType string, periodsByType map[string]int, defaultType string) Grid {
	key := strings.ToLower(strings.TrimSpace(schoolType))
	periods, ok := periodsByType[key]
	if !ok || periods <= 0 {
		key = strings.ToLower(defaultType)
		periods = periodsByType[key]
	}
	if periods <= 0 {
		for _, p := range periodsByType {
			if p > periods {
				periods = p
			}
		}
	}
	days := make([]string, len(Weekdays))
	copy(days, Weekdays)
	return Grid{SchoolType: key, Days: days, PeriodsPerDay: periods}
}

// Len returns the number of slots in the grid.
func (g Grid) Len() int {
	return len(g.Days) * g.PeriodsPerDay
}

// Index flattens a slot into its ordinal position (day-major).
func (g Grid) Index(s Slot) int {
	return s.Day*g.PeriodsPerDay + s.Period
}

// SlotAt is the inverse of Index.
func (g Grid) SlotAt(idx int) Slot {
	return Slot{Day: idx / g.PeriodsPerDay, Period: idx % g.PeriodsPerDay}
}

// Slots returns every slot in (day, period) order.
func (g Grid) Slots() []Slot {
	slots := make([]Slot, 0, g.Len())
	for d := range g.Days {
		for p := 0; p < g.PeriodsPerDay; p++ {
			slots = append(slots, Slot{Day: d, Period: p})
		}
	}
	return slots
}

// DayIndex resolves a day name (case-insensitive, full or three-letter) to its index, or -1.
func (g Grid) DayIndex(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return -1
	}
	for i, day := range g.Days {
		lower := strings.ToLower(day)
		if lower == name || (len(name) == 3 && strings.HasPrefix(lower, name)) {
			return i
		}
	}
	return -1
}
