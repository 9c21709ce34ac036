package p2p

import "fmt"

// Color partitions the address books. Grey/White/Gold are kept pairwise
// disjoint; Black and Dark may overlap with the others around banning.
type Color int

const (
	Grey Color = iota
	White
	Gold
	Black
	Dark
)

func (c Color) String() string {
	switch c {
	case Grey:
		return "grey"
	case White:
		return "white"
	case Gold:
		return "gold"
	case Black:
		return "black"
	case Dark:
		return "dark"
	default:
		return "unknown"
	}
}

// ParseColor parses the lowercase TSV color word. Black never appears in
// the persistence file, but is accepted here for completeness.
func ParseColor(s string) (Color, error) {
	switch s {
	case "grey":
		return Grey, nil
	case "white":
		return White, nil
	case "gold":
		return Gold, nil
	case "black":
		return Black, nil
	case "dark":
		return Dark, nil
	default:
		return 0, fmt.Errorf("p2p: unknown color %q", s)
	}
}

// cap returns the size cap for c, or 0 for uncapped (Gold, Black).
func (c Color) cap() int {
	switch c {
	case Grey:
		return 2000
	case White:
		return 5000
	case Dark:
		return 1000
	default:
		return 0
	}
}

// darkMaxAge is the age, in seconds, past which Dark entries are pruned by
// Refresh (spec.md §3 "Dark").
const darkMaxAge = int64(86400)
