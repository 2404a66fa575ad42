package matcher

// forEachCombination visits every k-subset of {0..n-1} as ascending positions,
// in lexicographic order, the order itertools-style generators produce.
// It stops as soon as visit returns true and reports whether that happened.
// The slice passed to visit is reused between calls.
func forEachCombination(n, k int, visit func(positions []int) bool) bool {
	if k <= 0 || k > n {
		return false
	}

	positions := make([]int, k)
	for i := range positions {
		positions[i] = i
	}

	for {
		if visit(positions) {
			return true
		}

		// rightmost position that can still move forward
		i := k - 1
		for i >= 0 && positions[i] == n-k+i {
			i--
		}
		if i < 0 {
			return false
		}

		positions[i]++
		for j := i + 1; j < k; j++ {
			positions[j] = positions[j-1] + 1
		}
	}
}

// countCombinations returns C(n, k), saturating at limit
func countCombinations(n, k, limit int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 1; i <= k; i++ {
		result = result * (n - k + i) / i
		if result >= limit {
			return limit
		}
	}
	return result
}
