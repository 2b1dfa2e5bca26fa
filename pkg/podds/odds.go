package podds

import "fmt"

// RemoveVig3 converts three-way decimal odds to fair probabilities by
// stripping the bookmaker's overround proportionally.
func RemoveVig3(home, draw, away float64) (Outcome, error) {
	if home <= 1 || draw <= 1 || away <= 1 {
		return Outcome{}, fmt.Errorf("decimal odds must exceed 1, got %.2f/%.2f/%.2f", home, draw, away)
	}
	return NewOutcome(1/home, 1/draw, 1/away), nil
}

// Overround returns the bookmaker margin implied by three-way decimal odds
func Overround(home, draw, away float64) float64 {
	return 1/home + 1/draw + 1/away - 1
}

// impliedOdds returns the vig free distribution from a fixture's odds when all three prices are present
func impliedOdds(f *Features) (Outcome, bool) {
	if f.HomeOdds == nil || f.DrawOdds == nil || f.AwayOdds == nil {
		return Outcome{}, false
	}
	o, err := RemoveVig3(*f.HomeOdds, *f.DrawOdds, *f.AwayOdds)
	if err != nil {
		return Outcome{}, false
	}
	return o, true
}
