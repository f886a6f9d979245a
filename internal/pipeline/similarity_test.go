package pipeline

import (
	"math"
	"testing"
)

func TestSimilarity_IdenticalIsOne(t *testing.T) {
	t.Parallel()

	tokens := []string{"acme", "recalls", "scooters", "scooters"}
	if got := Similarity(tokens, tokens); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1.0 for identical tokens, got %f", got)
	}
}

func TestSimilarity_DisjointIsZero(t *testing.T) {
	t.Parallel()

	if got := Similarity([]string{"volcano", "eruption"}, []string{"central", "bank"}); got != 0 {
		t.Fatalf("expected 0 for disjoint tokens, got %f", got)
	}
}

func TestSimilarity_EmptyInputs(t *testing.T) {
	t.Parallel()

	if got := Similarity(nil, nil); got != 0 {
		t.Fatalf("expected 0 for empty inputs, got %f", got)
	}
	if got := Similarity([]string{"acme"}, nil); got != 0 {
		t.Fatalf("expected 0 when one side is empty, got %f", got)
	}
}

func TestSimilarity_IsSymmetricMeanOfJaccardAndCosine(t *testing.T) {
	t.Parallel()

	left := []string{"acme", "recalls", "scooters", "battery", "fires"}
	right := []string{"acme", "scooters", "recalled", "battery", "fires", "spread"}

	jaccard := 4.0 / 7.0
	cosine := 4.0 / (math.Sqrt(5) * math.Sqrt(6))
	want := (jaccard + cosine) / 2

	if got := Similarity(left, right); math.Abs(got-want) > 1e-9 {
		t.Fatalf("unexpected similarity: got %f want %f", got, want)
	}
	if a, b := Similarity(left, right), Similarity(right, left); a != b {
		t.Fatalf("expected symmetric score, got %f and %f", a, b)
	}
}

func TestCosine_UsesTermFrequency(t *testing.T) {
	t.Parallel()

	// (2,1) . (1,1) / (sqrt(5) * sqrt(2))
	got := Cosine([]string{"oil", "oil", "opec"}, []string{"oil", "opec"})
	want := 3 / (math.Sqrt(5) * math.Sqrt(2))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("unexpected cosine: got %f want %f", got, want)
	}
	if j := Jaccard([]string{"oil", "oil", "opec"}, []string{"oil", "opec"}); j != 1 {
		t.Fatalf("expected set jaccard of 1, got %f", j)
	}
}
