package count

// runEM estimates feature abundances from ambiguous molecules by
// expectation maximization. Each row lists the 0-based column indexes of
// the features one molecule is compatible with, out of ncols columns
// total. Starting from uniform abundances, every cycle first splits each
// molecule's unit weight across its features in proportion to the current
// abundances, then re-estimates every abundance as that feature's share of
// the total weight. The returned abundances sum to 1; multiplied by the
// number of rows they estimate each feature's molecule count.
func runEM(rows [][]int, ncols, cycles int) []float64 {
	weights := make([]float64, ncols)
	for j := range weights {
		weights[j] = 1.0 / float64(ncols)
	}
	mass := make([]float64, ncols)
	for c := 0; c < cycles; c++ {
		for j := range mass {
			mass[j] = 0
		}
		for _, row := range rows {
			var total float64
			for _, j := range row {
				total += weights[j]
			}
			if total == 0 {
				continue
			}
			for _, j := range row {
				mass[j] += weights[j] / total
			}
		}
		for j := range weights {
			weights[j] = mass[j] / float64(len(rows))
		}
	}
	return weights
}
