package policy

import "time"

// CalendarGate is a pure predicate deciding whether today, in UTC,
// satisfies a named scheduling gate (spec.md §4.5 stage C). New gates
// are added here without touching the stage C caller.
type CalendarGate func(now time.Time) bool

// CalendarGates is the registry of named gates referenced by a rule's
// Policies list.
var CalendarGates = map[string]CalendarGate{
	"daily_5": func(now time.Time) bool {
		return true
	},
	"monthly_1st": func(now time.Time) bool {
		return now.UTC().Day() == 1
	},
	"monthly_15th": func(now time.Time) bool {
		return now.UTC().Day() == 15
	},
}

// GateMatches reports whether the named calendar gate fires today. An
// unknown gate name never matches (fails closed).
func GateMatches(name string, now time.Time) bool {
	gate, ok := CalendarGates[name]
	if !ok {
		return false
	}
	return gate(now)
}
