// Package validation classifies leads against a strategy, records lessons
// from the leads it rejects, and decides when the strategy must pivot.
package validation

// DefaultPivotThreshold is the disregard rate above which a strategy pivots.
const DefaultPivotThreshold = 0.60

// Counts tallies the classifications of one batch.
type Counts struct {
	Strike    int `json:"strike"`
	Monitor   int `json:"monitor"`
	Disregard int `json:"disregard"`
}

// Total is the number of classified leads.
func (c Counts) Total() int {
	return c.Strike + c.Monitor + c.Disregard
}

// Decision is the outcome of a pivot evaluation.
type Decision struct {
	Rate      float64 `json:"disregard_rate"`
	Defined   bool    `json:"defined"`
	Triggered bool    `json:"triggered"`
}

// Evaluate applies the pivot rule: the strategy pivots when the disregard
// rate is strictly greater than threshold. With no classified leads the
// rate is undefined and nothing triggers.
func Evaluate(c Counts, threshold float64) Decision {
	total := c.Total()
	if total == 0 {
		return Decision{}
	}
	rate := float64(c.Disregard) / float64(total)
	return Decision{
		Rate:      rate,
		Defined:   true,
		Triggered: rate > threshold,
	}
}
