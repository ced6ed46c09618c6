// Package textutil provides string similarity helpers used to match free-form
// user input against catalogue task names.
package textutil

// Ratio computes a similarity ratio in [0, 1] between two strings using the
// Ratcliff/Obershelp algorithm: twice the number of matching characters over
// the total length of both strings. Operates on runes so Japanese task names
// compare by character, not by byte.
func Ratio(a, b string) float64 {
	ar := []rune(a)
	br := []rune(b)
	total := len(ar) + len(br)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingRunes(ar, br)) / float64(total)
}

// matchingRunes counts characters in matching blocks: the longest common
// substring plus, recursively, the matches to its left and right.
func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonRun(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingRunes(a[:ai], b[:bi]) + matchingRunes(a[ai+size:], b[bi+size:])
}

// longestCommonRun finds the longest common substring of a and b, preferring
// the earliest occurrence in a on ties.
func longestCommonRun(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}

// MostSimilar returns the candidate with the highest Ratio against input.
// The first candidate wins ties. ok is false when candidates is empty or the
// best score falls below threshold.
func MostSimilar(input string, candidates []string, threshold float64) (string, bool) {
	best := ""
	bestScore := -1.0

	for _, candidate := range candidates {
		score := Ratio(input, candidate)
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	if bestScore < threshold {
		return "", false
	}
	return best, true
}
