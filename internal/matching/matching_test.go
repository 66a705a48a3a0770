package matching

import (
	"math"
	"testing"

	"github.com/kozaktomas/face-registry/internal/database"
)

func cand(subject string, distance float64) database.Candidate {
	return database.Candidate{FaceID: subject + "-face", SubjectID: subject, Distance: distance}
}

func TestConfidenceBand(t *testing.T) {
	tests := []struct {
		similarity float64
		want       string
	}{
		{1.0, ConfidenceVeryHigh},
		{0.9001, ConfidenceVeryHigh},
		{0.90, ConfidenceHigh},
		{0.8001, ConfidenceHigh},
		{0.80, ConfidenceMedium},
		{0.6501, ConfidenceMedium},
		{0.65, ConfidenceLow},
		{0.15, ConfidenceLow},
		{-0.5, ConfidenceLow},
	}

	for _, tc := range tests {
		if got := ConfidenceBand(tc.similarity); got != tc.want {
			t.Errorf("ConfidenceBand(%v) = %q; want %q", tc.similarity, got, tc.want)
		}
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		similarity float64
		want       string
	}{
		{0.62, "62.00%"},
		{0.15, "15.00%"},
		{1, "100.00%"},
		{0, "0.00%"},
		{0.123456, "12.35%"},
	}

	for _, tc := range tests {
		if got := FormatPercentage(tc.similarity); got != tc.want {
			t.Errorf("FormatPercentage(%v) = %q; want %q", tc.similarity, got, tc.want)
		}
	}
}

func TestSurvivors_ThresholdInclusive(t *testing.T) {
	cands := []database.Candidate{cand("a", 0.5), cand("b", 0.85), cand("c", 0.8500001)}

	got := Survivors(cands, 0.85)
	if len(got) != 2 || got[0].SubjectID != "a" || got[1].SubjectID != "b" {
		t.Errorf("Survivors() = %+v; want a and b", got)
	}
}

func TestSurvivors_Monotonic(t *testing.T) {
	cands := []database.Candidate{
		cand("a", 0.1), cand("b", 0.3), cand("c", 0.5), cand("d", 0.7), cand("e", 0.9), cand("f", 1.4),
	}

	prev := -1
	for _, threshold := range []float64{0.05, 0.1, 0.4, 0.7, 1.0, 2.0} {
		n := len(Survivors(cands, threshold))
		if n < prev {
			t.Errorf("raising threshold to %v shrank survivors from %d to %d", threshold, prev, n)
		}
		prev = n
	}
	if prev != len(cands) {
		t.Errorf("threshold 2.0 should keep everything, kept %d", prev)
	}
}

func TestAggregate_BestPerSubject(t *testing.T) {
	cands := []database.Candidate{
		cand("alice", 0.30),
		cand("bob", 0.20),
		cand("alice", 0.10),
		cand("bob", 0.40),
		cand("carol", 0.90), // above threshold
	}

	res := Aggregate(cands, Options{Threshold: 0.85, TopN: 5})

	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 subjects, got %+v", res.Matches)
	}
	alice, bob := res.Matches[0], res.Matches[1]
	if alice.SubjectID != "alice" || math.Abs(alice.Similarity-0.90) > 1e-9 {
		t.Errorf("expected alice first with similarity 0.90, got %+v", alice)
	}
	if alice.Samples != 2 || math.Abs(alice.Distance-0.10) > 1e-9 {
		t.Errorf("unexpected alice aggregation: %+v", alice)
	}
	if bob.SubjectID != "bob" || math.Abs(bob.Similarity-0.80) > 1e-9 {
		t.Errorf("expected bob second with similarity 0.80, got %+v", bob)
	}
	if alice.Confidence != ConfidenceHigh || bob.Confidence != ConfidenceMedium {
		t.Errorf("unexpected confidence bands: %q, %q", alice.Confidence, bob.Confidence)
	}
	if alice.MatchPercentage != "90.00%" {
		t.Errorf("unexpected percentage %q", alice.MatchPercentage)
	}

	d := res.Diagnostic
	if d.CandidatesConsidered != 5 || d.CandidatesAboveThreshold != 4 {
		t.Errorf("unexpected candidate counts: %+v", d)
	}
	if d.BestSubjectID != "alice" || !d.HasData {
		t.Errorf("unexpected diagnostic: %+v", d)
	}
}

func TestAggregate_SubjectsAppearOnce(t *testing.T) {
	var cands []database.Candidate
	for i := range 20 {
		cands = append(cands, cand([]string{"a", "b", "c"}[i%3], float64(i)/100))
	}

	res := Aggregate(cands, Options{Threshold: DefaultThreshold, TopN: 10})

	seen := map[string]bool{}
	for _, m := range res.Matches {
		if seen[m.SubjectID] {
			t.Errorf("subject %s appears twice", m.SubjectID)
		}
		seen[m.SubjectID] = true
	}
	if len(res.Matches) != 3 {
		t.Errorf("expected 3 subjects, got %d", len(res.Matches))
	}
}

func TestAggregate_TiesKeepFirstSeen(t *testing.T) {
	cands := []database.Candidate{
		{FaceID: "b1", SubjectID: "bob", Distance: 0.2},
		{FaceID: "a1", SubjectID: "alice", Distance: 0.2},
		{FaceID: "b2", SubjectID: "bob", Distance: 0.2},
	}

	res := Aggregate(cands, DefaultOptions())

	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(res.Matches))
	}
	if res.Matches[0].SubjectID != "bob" || res.Matches[1].SubjectID != "alice" {
		t.Errorf("expected first-seen order bob, alice; got %s, %s",
			res.Matches[0].SubjectID, res.Matches[1].SubjectID)
	}
}

func TestAggregate_TopN(t *testing.T) {
	var cands []database.Candidate
	for i, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		cands = append(cands, cand(s, float64(i)/10))
	}

	res := Aggregate(cands, Options{Threshold: 2, TopN: 3})
	if len(res.Matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(res.Matches))
	}
	for i, want := range []string{"a", "b", "c"} {
		if res.Matches[i].SubjectID != want {
			t.Errorf("match %d = %s; want %s", i, res.Matches[i].SubjectID, want)
		}
	}

	res = Aggregate(cands, Options{Threshold: 2})
	if len(res.Matches) != DefaultTopN {
		t.Errorf("expected default top N %d, got %d", DefaultTopN, len(res.Matches))
	}
}

func TestAggregate_NoSurvivorsKeepsDiagnostic(t *testing.T) {
	cands := []database.Candidate{cand("alice", 0.95), cand("bob", 0.38), cand("carol", 1.2)}

	res := Aggregate(cands, Options{Threshold: 0.2})

	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches, got %+v", res.Matches)
	}
	d := res.Diagnostic
	if math.Abs(d.BestSimilarity-0.62) > 1e-9 || d.BestSubjectID != "bob" {
		t.Errorf("expected best similarity 0.62 from bob, got %+v", d)
	}
	if msg := NoMatchMessage(d); msg != "No matching subject found (best match was 62.00%, needed 80.00%)" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestAggregate_EmptyPool(t *testing.T) {
	res := Aggregate(nil, DefaultOptions())

	if len(res.Matches) != 0 {
		t.Errorf("expected no matches, got %+v", res.Matches)
	}
	d := res.Diagnostic
	if d.HasData || d.BestSimilarity != 0 || d.CandidatesConsidered != 0 {
		t.Errorf("unexpected diagnostic for empty pool: %+v", d)
	}
	if d.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold, got %v", d.Threshold)
	}
	if msg := NoMatchMessage(d); msg != "No matching subject found (best match was 0.00%, needed 15.00%)" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestAggregate_SortedDescending(t *testing.T) {
	cands := []database.Candidate{
		cand("d", 0.7), cand("a", 0.05), cand("c", 0.5), cand("b", 0.3),
	}

	res := Aggregate(cands, DefaultOptions())
	for i := 1; i < len(res.Matches); i++ {
		if res.Matches[i].Similarity > res.Matches[i-1].Similarity {
			t.Errorf("matches not sorted: %+v", res.Matches)
		}
	}
}

func TestAggregate_ZeroThresholdKeepsExactMatchesOnly(t *testing.T) {
	cands := []database.Candidate{cand("alice", 0), cand("bob", 0.5)}

	res := Aggregate(cands, Options{Threshold: 0})

	if len(res.Matches) != 1 || res.Matches[0].SubjectID != "alice" {
		t.Fatalf("expected only the exact match, got %+v", res.Matches)
	}
	if res.Diagnostic.Threshold != 0 || res.Diagnostic.RequiredSimilarity != 1 {
		t.Errorf("unexpected diagnostic: %+v", res.Diagnostic)
	}
}

func TestAggregate_NegativeThresholdSelectsDefault(t *testing.T) {
	res := Aggregate([]database.Candidate{cand("alice", 0.8)}, Options{Threshold: -1})

	if res.Diagnostic.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold, got %v", res.Diagnostic.Threshold)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected alice to survive the default threshold, got %+v", res.Matches)
	}
}

func TestAggregate_ThresholdMonotonic(t *testing.T) {
	cands := []database.Candidate{
		cand("a", 0), cand("b", 0.05), cand("c", 0.3), cand("d", 0.85), cand("e", 1.2), cand("f", 1.9),
	}

	prev := -1
	for _, threshold := range []float64{0, 0.05, 0.1, 0.5, 0.85, 1, 1.5, 2} {
		got := Aggregate(cands, Options{Threshold: threshold, TopN: len(cands)}).Diagnostic.CandidatesAboveThreshold
		if got < prev {
			t.Errorf("raising threshold to %v reduced survivors from %d to %d", threshold, prev, got)
		}
		prev = got
	}
}

func TestAggregate_SimilarityClampedForOpposingVectors(t *testing.T) {
	cands := []database.Candidate{cand("opposite", 1.6)}

	res := Aggregate(cands, Options{Threshold: 2})
	if len(res.Matches) != 1 {
		t.Fatalf("expected 1 match, got %+v", res.Matches)
	}
	m := res.Matches[0]
	if m.Similarity != 0 || m.MatchPercentage != "0.00%" || m.Confidence != ConfidenceLow {
		t.Errorf("expected similarity clamped to 0, got %+v", m)
	}
	if m.Distance != 1.6 {
		t.Errorf("expected raw distance to be kept, got %v", m.Distance)
	}
	if msg := NoMatchMessage(res.Diagnostic); msg != "No matching subject found (best match was 0.00%, needed 0.00%)" {
		t.Errorf("unexpected message %q", msg)
	}

	res = Aggregate(cands, DefaultOptions())
	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches at the default threshold, got %+v", res.Matches)
	}
	if msg := NoMatchMessage(res.Diagnostic); msg != "No matching subject found (best match was 0.00%, needed 15.00%)" {
		t.Errorf("unexpected message %q", msg)
	}
}
