package matching

import "sort"

// Candidate is anything the matching engine can evaluate and select: a
// mock, forwarding rule, or proxy rule. Sequence is the monotonic insertion
// order assigned by the state manager; ID is the category-scoped identity
// used for tie-breaking in the closest-match diagnostic.
type Candidate interface {
	Matchers() []Matcher
	CandidateID() int64
	Sequence() int64
	// Active reports whether the candidate is currently eligible for
	// selection (false once a mock's hit limit has been reached).
	Active() bool
}

// Select implements spec.md §4.4 step 3: evaluate candidates in *reverse*
// insertion order, returning the first whose every matcher accepts the
// request and which is Active. This is used for mocks; forwarding/proxy
// rules use SelectForward (forward insertion order) instead.
func Select(candidates []Candidate, r *Request) (Candidate, bool) {
	ordered := sortedBySequence(candidates)
	for i := len(ordered) - 1; i >= 0; i-- {
		c := ordered[i]
		if !c.Active() {
			continue
		}
		if allMatch(c.Matchers(), r) {
			return c, true
		}
	}
	return nil, false
}

// SelectForward implements forward-insertion-order first-match, used for
// forwarding rules and proxy rules (spec.md §4.4 steps 1-2).
func SelectForward(candidates []Candidate, r *Request) (Candidate, bool) {
	ordered := sortedBySequence(candidates)
	for _, c := range ordered {
		if !c.Active() {
			continue
		}
		if allMatch(c.Matchers(), r) {
			return c, true
		}
	}
	return nil, false
}

func sortedBySequence(candidates []Candidate) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence() < ordered[j].Sequence() })
	return ordered
}

func allMatch(matchers []Matcher, r *Request) bool {
	for _, m := range matchers {
		if !m.Matches(r) {
			return false
		}
	}
	return true
}

// ClosestMatch is the spec.md §4.4/§4.3 "closest match" diagnostic: the
// candidate with minimum summed distance, ties broken by (fewer unmatched
// matchers, then lower CandidateID).
type ClosestMatch struct {
	Candidate      Candidate
	TotalDistance  uint64
	UnmatchedCount int
	Breakdown      []MatcherDistance
}

// MatcherDistance is a single matcher's contribution to a ClosestMatch,
// used to render a per-matcher breakdown.
type MatcherDistance struct {
	Description string
	Distance    uint64
	Matched     bool
}

// Closest computes the ClosestMatch across all candidates (mocks) for a
// request, per spec.md §8 property 8. Returns false if candidates is empty.
func Closest(candidates []Candidate, r *Request) (ClosestMatch, bool) {
	var best ClosestMatch
	found := false

	for _, c := range candidates {
		total := uint64(0)
		unmatched := 0
		breakdown := make([]MatcherDistance, 0, len(c.Matchers()))
		for _, m := range c.Matchers() {
			d := m.Distance(r)
			ok := d == 0
			if !ok {
				unmatched++
			}
			total += d
			breakdown = append(breakdown, MatcherDistance{Description: m.Describe(), Distance: d, Matched: ok})
		}

		candidate := ClosestMatch{Candidate: c, TotalDistance: total, UnmatchedCount: unmatched, Breakdown: breakdown}
		if !found || isCloser(candidate, best) {
			best = candidate
			found = true
		}
	}

	return best, found
}

// isCloser reports whether a should win over b under spec.md §4.4's tie-break:
// minimum total distance, then fewer unmatched matchers, then lower ID.
func isCloser(a, b ClosestMatch) bool {
	if a.TotalDistance != b.TotalDistance {
		return a.TotalDistance < b.TotalDistance
	}
	if a.UnmatchedCount != b.UnmatchedCount {
		return a.UnmatchedCount < b.UnmatchedCount
	}
	return a.Candidate.CandidateID() < b.Candidate.CandidateID()
}
