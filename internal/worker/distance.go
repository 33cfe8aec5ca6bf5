package worker

import "math"

type distFunc func(a, b []float32) float32

func distanceFunc(d Distance) distFunc {
	switch d {
	case DistanceCos:
		return cosineDistance
	case DistanceDot:
		return dotDistance
	default:
		return l2Distance
	}
}

// l2Distance is the squared Euclidean distance. Ordering matches the true
// metric and the square root is skipped.
func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// cosineDistance is 1 - cosine similarity. Zero vectors are maximally far.
func cosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	similarity := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - similarity
}

// dotDistance is the negated inner product so that smaller is closer.
func dotDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}
