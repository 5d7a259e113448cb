package discharge

import "sort"

// DefaultTopN is the size of the ranked short-list returned per patient.
const DefaultTopN = 3

// PickTop filters out hard-excluded candidates and returns the topN
// survivors by descending total score. The sort is stable, so candidates
// with equal scores keep their original offset order. An empty result means
// "no viable date" and is a first-class outcome, not an error.
func PickTop(candidates []Candidate, topN int) []Candidate {
	if topN <= 0 {
		topN = DefaultTopN
	}

	viable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.HardNGReason == "" {
			viable = append(viable, c)
		}
	}

	sort.SliceStable(viable, func(i, j int) bool {
		return viable[i].ScoreTotal > viable[j].ScoreTotal
	})

	if len(viable) > topN {
		viable = viable[:topN]
	}
	return viable
}
