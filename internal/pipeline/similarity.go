package pipeline

import "math"

// Jaccard is |A ∩ B| / |A ∪ B| over the token sets, 0 for an empty union.
func Jaccard(left, right []string) float64 {
	leftSet := tokenSet(left)
	rightSet := tokenSet(right)

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Cosine compares term-frequency vectors, 0 when either side is empty.
func Cosine(left, right []string) float64 {
	leftFreq := termFrequencies(left)
	rightFreq := termFrequencies(right)

	var dot, leftMag, rightMag float64
	for token, count := range leftFreq {
		leftMag += count * count
		if other, ok := rightFreq[token]; ok {
			dot += count * other
		}
	}
	for _, count := range rightFreq {
		rightMag += count * count
	}
	if leftMag == 0 || rightMag == 0 {
		return 0
	}
	return dot / (math.Sqrt(leftMag) * math.Sqrt(rightMag))
}

// Similarity is the mean of Jaccard and Cosine, clamped to [0, 1].
func Similarity(left, right []string) float64 {
	return clamp01((Jaccard(left, right) + Cosine(left, right)) / 2)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func termFrequencies(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		freq[token]++
	}
	return freq
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
