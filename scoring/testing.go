package scoring

import (
	"github.com/harmlens/harmlens/signals"
)

// SignalFixture builds a complete signal set with the given scores; families not mentioned score zero.
func SignalFixture(scores map[signals.Family]float64) signals.Set {
	set := make(signals.Set, len(signals.Families))
	for _, f := range signals.Families {
		set[f] = signals.Signal{Score: scores[f], Flags: map[string]bool{}}
	}
	return set
}

// WithFlags returns a copy of set with the named flags raised on one family.
func WithFlags(set signals.Set, f signals.Family, flags ...string) signals.Set {
	out := make(signals.Set, len(set))
	for k, v := range set {
		out[k] = v
	}
	sig := out[f]
	m := make(map[string]bool, len(sig.Flags)+len(flags))
	for k, v := range sig.Flags {
		m[k] = v
	}
	for _, name := range flags {
		m[name] = true
	}
	sig.Flags = m
	out[f] = sig
	return out
}
