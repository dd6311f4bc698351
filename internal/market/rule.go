package market

// Branch thresholds and move sizes of the price walk. A draw below
// upThreshold moves the price up, below downThreshold moves it down, and
// anything else is a small move in a random direction.
const (
	upThreshold   = 0.35
	downThreshold = 0.72

	swingMinPercent = 0.001
	swingMaxPercent = 0.10
	calmMinPercent  = 0.001
	calmMaxPercent  = 0.005
)

type MoveKind int

const (
	MoveUp MoveKind = iota
	MoveDown
	MoveCalm
)

func (k MoveKind) String() string {
	switch k {
	case MoveUp:
		return "up"
	case MoveDown:
		return "down"
	case MoveCalm:
		return "calm"
	default:
		return "unknown"
	}
}

// Move is the outcome of one application of the rule to one currency.
type Move struct {
	Kind  MoveKind
	Price float64
	// Change is the delta computed before clamping. When the clamp kicks in
	// it differs from Price minus the old price.
	Change float64
}

// Rule is the random price walk applied to every currency on each tick.
type Rule struct {
	Minimum float64
	Maximum float64
}

// Apply computes the next price from old. It only reads its arguments; the
// caller commits the result.
func (r Rule) Apply(old float64, src RandomSource) Move {
	var m Move

	switch roll := src.Float64(); {
	case roll < upThreshold:
		m.Kind = MoveUp
		m.Change = old * src.Uniform(swingMinPercent, swingMaxPercent)
	case roll < downThreshold:
		m.Kind = MoveDown
		m.Change = -(old * src.Uniform(swingMinPercent, swingMaxPercent))
	default:
		m.Kind = MoveCalm
		pct := src.Uniform(calmMinPercent, calmMaxPercent)
		if src.Bool() {
			m.Change = old * pct
		} else {
			m.Change = -(old * pct)
		}
	}

	m.Price = r.clamp(old + m.Change)
	return m
}

func (r Rule) clamp(price float64) float64 {
	if price < r.Minimum {
		return r.Minimum
	}
	if price > r.Maximum {
		return r.Maximum
	}
	return price
}
