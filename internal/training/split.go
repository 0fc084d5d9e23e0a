package training

import (
	"math"
	"math/rand/v2"
)

// Split shuffles [0, n) and returns train and test indices, with
// ceil(testSize*n) rows held out.
func Split(n int, testSize float64, rng *rand.Rand) (train, test []int) {
	perm := rng.Perm(n)
	k := min(max(int(math.Ceil(float64(n)*testSize)), 0), n)
	return perm[k:], perm[:k]
}

// KFold shuffles [0, n) into k folds whose sizes differ by at most one.
func KFold(n, k int, rng *rand.Rand) [][]int {
	perm := rng.Perm(n)
	folds := make([][]int, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		folds[f] = perm[start : start+size]
		start += size
	}
	return folds
}

func pick(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	outX := make([][]float64, len(idx))
	outY := make([]float64, len(idx))
	for j, i := range idx {
		outX[j] = X[i]
		outY[j] = y[i]
	}
	return outX, outY
}
