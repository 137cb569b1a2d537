package scorer

import (
	"math"

	"nemesis/internal/domain"
)

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched or zero-magnitude
// vectors are treated as orthogonal.
func CosineDistance(a, b domain.Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Negate returns a copy of v with every component's sign flipped.
func Negate(v domain.Vector) domain.Vector {
	out := make(domain.Vector, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

// Opposition maps the cosine distance between c and the negation of r onto [0, 1];
// 1 means c points exactly away from r.
func Opposition(r, c domain.Vector) float64 {
	return 1 - CosineDistance(c, Negate(r))/2
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
