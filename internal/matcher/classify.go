package matcher

// ClassificationStatus categorizes a candidate set for routing
type ClassificationStatus int

const (
	// StatusNoCandidates means no draw line scored above zero
	StatusNoCandidates ClassificationStatus = iota

	// StatusSingleMatch means one candidate clears the confidence threshold
	// with a clear margin and can be applied without escalation
	StatusSingleMatch

	// StatusMultipleCandidates means two or more candidates clear the
	// threshold within the ambiguity band, suitable for AI disambiguation
	StatusMultipleCandidates

	// StatusAmbiguous means candidates exist but none clears the threshold
	StatusAmbiguous
)

// String returns the string representation of ClassificationStatus
func (s ClassificationStatus) String() string {
	switch s {
	case StatusNoCandidates:
		return "NO_CANDIDATES"
	case StatusSingleMatch:
		return "SINGLE_MATCH"
	case StatusMultipleCandidates:
		return "MULTIPLE_CANDIDATES"
	case StatusAmbiguous:
		return "AMBIGUOUS"
	default:
		return "UNKNOWN"
	}
}

// Classification is the routing decision for one invoice's candidate set
type Classification struct {
	Status     ClassificationStatus `json:"status"`
	Candidates []Candidate          `json:"candidates"`
}

// Best returns the top candidate, or nil when there are none
func (c *Classification) Best() *Candidate {
	if len(c.Candidates) == 0 {
		return nil
	}
	return &c.Candidates[0]
}

// Classify routes a scored candidate list. Candidates must already be
// sorted best-first, as GenerateCandidates returns them.
//
//   - empty list -> NO_CANDIDATES
//   - no candidate clears the minimum-confidence threshold -> AMBIGUOUS
//   - the leader clears the threshold and sits more than the ambiguity band
//     ahead of the runner-up (or has no runner-up) -> SINGLE_MATCH
//   - two or more clear the threshold within the band -> MULTIPLE_CANDIDATES
func (e *Engine) Classify(candidates []Candidate) Classification {
	c := Classification{Candidates: candidates}

	if len(candidates) == 0 {
		c.Status = StatusNoCandidates
		return c
	}

	if candidates[0].Scores.Composite < e.config.MinConfidenceScore {
		c.Status = StatusAmbiguous
		return c
	}

	if len(candidates) == 1 {
		c.Status = StatusSingleMatch
		return c
	}

	gap := candidates[0].Scores.Composite - candidates[1].Scores.Composite
	if gap > e.config.AmbiguityBand {
		c.Status = StatusSingleMatch
		return c
	}

	c.Status = StatusMultipleCandidates
	return c
}
