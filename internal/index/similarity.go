package index

import "math"

// norm returns the Euclidean length of v.
func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity of q and v. qNorm is the precomputed
// length of q. Zero vectors score 0.
func cosine(q []float32, qNorm float64, v []float32) float32 {
	if len(q) != len(v) || qNorm == 0 {
		return 0
	}
	var dot, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		vv += float64(v[i]) * float64(v[i])
	}
	if vv == 0 {
		return 0
	}
	return float32(dot / (qNorm * math.Sqrt(vv)))
}
