package matching

// levenshtein computes the edit distance between two strings. Used as the
// distance metric for string-valued matcher primitives per spec.md §4.1.
func levenshtein(a, b string) uint64 {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return uint64(len(br))
	}
	if len(br) == 0 {
		return uint64(len(ar))
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return uint64(prev[len(br)])
}

func absDiff(a, b int) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

// regexMismatchDistance is the fixed distance charged when a regex-based
// primitive fails to match — regex failures have no natural graded metric,
// so a constant stands in (spec.md §4.1 permits any nonneg proportional
// measure; a constant is proportional in the degenerate binary case).
const regexMismatchDistance uint64 = 10

// closureMismatchDistance is the fixed distance for a failed user-closure
// matcher (spec.md §4.1: "a fixed large constant").
const closureMismatchDistance uint64 = 1000
