package podds

import "math"

// Confidence levels from the mean interval width
const (
	ConfidenceVeryHigh = "very_high"
	ConfidenceHigh     = "high"
	ConfidenceMedium   = "medium"
	ConfidenceLow      = "low"
)

// Interval is a probability range clipped to [0, 1]
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Confidence summarises how much the members agree
type Confidence struct {
	HomeWin   Interval `json:"home_win"`
	Draw      Interval `json:"draw"`
	AwayWin   Interval `json:"away_win"`
	MeanWidth float64  `json:"mean_width"`
	Level     string   `json:"level"`
	Agreement float64  `json:"agreement"`
	Members   int      `json:"members"`
}

// computeConfidence builds z-sigma intervals around the point estimate from the
// population spread of the member predictions. Fewer than two members gives nil.
func computeConfidence(point Outcome, members []Outcome, z, agreementWidth float64) *Confidence {
	if len(members) < 2 {
		return nil
	}
	n := float64(len(members))
	pts := point.Slice()
	intervals := make([]Interval, 3)
	width := 0.0
	for i := 0; i < 3; i++ {
		var mean, sq float64
		for _, m := range members {
			mean += m.Slice()[i]
		}
		mean /= n
		for _, m := range members {
			d := m.Slice()[i] - mean
			sq += d * d
		}
		sigma := math.Sqrt(sq / n)
		intervals[i] = Interval{
			Lower: clamp(pts[i]-z*sigma, 0, 1),
			Upper: clamp(pts[i]+z*sigma, 0, 1),
		}
		width += intervals[i].Upper - intervals[i].Lower
	}
	width /= 3

	return &Confidence{
		HomeWin:   intervals[0],
		Draw:      intervals[1],
		AwayWin:   intervals[2],
		MeanWidth: width,
		Level:     confidenceLevel(width),
		Agreement: 1 - math.Min(1, width/makeSensible(agreementWidth, 0.3)),
		Members:   len(members),
	}
}

func confidenceLevel(width float64) string {
	switch {
	case width < 0.10:
		return ConfidenceVeryHigh
	case width < 0.20:
		return ConfidenceHigh
	case width < 0.30:
		return ConfidenceMedium
	}
	return ConfidenceLow
}
