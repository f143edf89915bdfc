package deltanet

// removeSorted removes the positions listed in sorted (ascending) from s,
// shifting survivors left in order. The slice keeps its length; the vacated
// tail is filled with zero. Positions past the end of s are ignored.
func removeSorted[T any](s []T, sorted []int, zero T) []T {
	if len(sorted) == 0 || sorted[0] >= len(s) {
		return s
	}

	w := sorted[0]
	k := 0
	for r := w; r < len(s); r++ {
		for k < len(sorted) && sorted[k] < r {
			k++
		}
		if k < len(sorted) && sorted[k] == r {
			continue
		}
		s[w] = s[r]
		w++
	}
	for i := w; i < len(s); i++ {
		s[i] = zero
	}
	return s
}

// shiftedIndex maps an index before compaction to its position after it.
// The second result is false if the index itself was removed.
func shiftedIndex(index int, sorted []int) (int, bool) {
	below := 0
	for _, r := range sorted {
		if r > index {
			break
		}
		if r == index {
			return 0, false
		}
		below++
	}
	return index - below, true
}

// growLength returns the smallest power of two that is at least need and
// at least current.
func growLength(current, need int) int {
	n := current
	if n < 1 {
		n = 1
	}
	for n < need {
		n *= 2
	}
	return n
}
