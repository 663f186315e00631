package detection

import "time"

// Summary is the aggregate of one frame's results.
type Summary struct {
	Results      []Result
	HasViolation bool
	// Highest is the violating result with the largest confidence; the first
	// one seen wins ties. Nil when there is no violation.
	Highest *Result
	Latency time.Duration
}

// Aggregate merges results in order. It has no side effects and keeps the
// caller's ordering.
func Aggregate(results []Result, latency time.Duration) Summary {
	s := Summary{
		Results: append([]Result(nil), results...),
		Latency: latency,
	}

	for i := range s.Results {
		r := &s.Results[i]
		if !r.IsViolation {
			continue
		}
		s.HasViolation = true
		if s.Highest == nil || r.Confidence > s.Highest.Confidence {
			s.Highest = r
		}
	}

	return s
}

// Categories returns the distinct violating categories in order of appearance.
func (s Summary) Categories() []Category {
	var out []Category
	seen := make(map[Category]bool)
	for _, r := range s.Results {
		if r.IsViolation && !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}
