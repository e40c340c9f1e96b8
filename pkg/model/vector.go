package model

import "math"

// SimilarityEpsilon is the floating-point tolerance for treating two
// similarity scores as tied.
const SimilarityEpsilon = 1e-6

// Similarity returns cosine similarity normalized to [0,1]: 1.0 for parallel
// vectors, 0.5 for orthogonal, 0.0 for opposite. Mismatched or zero vectors
// score 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return (cos + 1) / 2
}
