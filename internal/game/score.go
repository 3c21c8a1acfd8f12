package game

import "maps"

// Score maps player names to their current scores. Values handed out by the
// engine are snapshot copies, so callers may diff two snapshots without
// racing the live state.
type Score map[string]int

// Copy returns an independent snapshot.
func (s Score) Copy() Score {
	out := make(Score, len(s))
	maps.Copy(out, s)
	return out
}

// Equal reports whether two snapshots hold identical scores.
func (s Score) Equal(other Score) bool {
	return maps.Equal(s, other)
}

// winners lists the names with the top score among those the checker accepts.
// Ties yield several names; no accepted candidates yield none.
func (s Score) winners(candidate func(name string) bool) []string {
	best, found := 0, false
	for name, value := range s {
		if !candidate(name) {
			continue
		}
		if !found || value > best {
			best, found = value, true
		}
	}
	if !found {
		return []string{}
	}
	result := make([]string, 0, 1)
	for name, value := range s {
		if candidate(name) && value == best {
			result = append(result, name)
		}
	}
	return result
}
