package vector

import "math"

// SquaredL2 returns the squared Euclidean distance between a and b.
// Accumulation is done in float64; callers guarantee equal lengths.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Score converts a squared L2 distance into a similarity in (0, 1].
// It is 1 only at distance 0 and is not a probability.
func Score(distance float64) float64 {
	return math.Exp(-distance)
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
