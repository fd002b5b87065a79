package engine

// Weights tunes the built-in soft objectives that complement compiled soft rules.
type Weights struct {
	// DifficultAdjacency is charged per pair of adjacent difficult lessons in a stream.
	DifficultAdjacency float64 `json:"difficultAdjacency" yaml:"difficultAdjacency"`
	// SameDayRepeat is charged per pair of same-subject lessons sharing a day.
	SameDayRepeat float64 `json:"sameDayRepeat" yaml:"sameDayRepeat"`
	// Balance scales the variance of each stream's daily lesson counts.
	Balance float64 `json:"balance" yaml:"balance"`
	// Workload is charged per lesson a teacher receives above their workload target.
	Workload float64 `json:"workload" yaml:"workload"`
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		DifficultAdjacency: 1,
		SameDayRepeat:      1,
		Balance:            0.5,
		Workload:           0.25,
	}
}

// Quality is the soft-constraint report of a complete schedule.
type Quality struct {
	SoftRules          float64            `json:"softRules"`
	RulePenalties      map[string]float64 `json:"rulePenalties,omitempty"`
	DifficultAdjacency float64            `json:"difficultAdjacency"`
	SameDayRepeat      float64            `json:"sameDayRepeat"`
	Workload           float64            `json:"workload"`
	Balance            float64            `json:"balance"`
	Total              float64            `json:"total"`
}

func (q *Quality) sum() {
	q.Total = q.SoftRules + q.DifficultAdjacency + q.SameDayRepeat + q.Workload + q.Balance
}

// variance is the population variance of counts.
func variance(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}
	var mean float64
	for _, c := range counts {
		mean += float64(c)
	}
	mean /= float64(len(counts))
	var v float64
	for _, c := range counts {
		d := float64(c) - mean
		v += d * d
	}
	return v / float64(len(counts))
}
