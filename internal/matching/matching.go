// Package matching turns raw nearest-neighbor hits into a ranked, per-subject
// list of matches.
package matching

import (
	"fmt"
	"slices"

	"github.com/kozaktomas/face-registry/internal/database"
)

const (
	DefaultThreshold     = 0.85 // cosine distance
	DefaultTopN          = 5
	DefaultCandidatePool = 50
)

// Confidence bands, compared with a strict greater-than.
const (
	VeryHighAbove = 0.90
	HighAbove     = 0.80
	MediumAbove   = 0.65
)

const (
	ConfidenceVeryHigh = "Very High"
	ConfidenceHigh     = "High"
	ConfidenceMedium   = "Medium"
	ConfidenceLow      = "Low"
)

// Options controls aggregation. A negative Threshold selects DefaultThreshold;
// zero keeps exact matches only. TopN <= 0 selects DefaultTopN.
type Options struct {
	Threshold float64 // maximum cosine distance; a candidate exactly at it survives
	TopN      int
}

// DefaultOptions returns the default threshold and top N.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, TopN: DefaultTopN}
}

// Match is one subject in the ranked result.
type Match struct {
	SubjectID       string  `json:"subject_id"`
	Similarity      float64 `json:"similarity"`
	Confidence      string  `json:"confidence"`
	MatchPercentage string  `json:"match_percentage"`
	Distance        float64 `json:"distance"`
	Samples         int     `json:"samples"` // surviving candidates of this subject
}

// Diagnostic describes the candidate pool regardless of whether anything matched.
type Diagnostic struct {
	BestSimilarity           float64 `json:"best_similarity"`
	BestSubjectID            string  `json:"best_subject_id,omitempty"`
	CandidatesConsidered     int     `json:"candidates_considered"`
	CandidatesAboveThreshold int     `json:"candidates_above_threshold"`
	Threshold                float64 `json:"threshold"`
	RequiredSimilarity       float64 `json:"required_similarity"`
	HasData                  bool    `json:"has_data"`
}

// Result is the output of Aggregate.
type Result struct {
	Matches    []Match    `json:"matches"`
	Diagnostic Diagnostic `json:"debug_info"`
}

// ConfidenceBand maps a similarity to its label.
func ConfidenceBand(similarity float64) string {
	switch {
	case similarity > VeryHighAbove:
		return ConfidenceVeryHigh
	case similarity > HighAbove:
		return ConfidenceHigh
	case similarity > MediumAbove:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// FormatPercentage renders a similarity as a percentage with two decimals.
func FormatPercentage(similarity float64) string {
	return fmt.Sprintf("%.2f%%", similarity*100)
}

// Survivors returns the candidates whose distance does not exceed threshold,
// in their original order.
func Survivors(cands []database.Candidate, threshold float64) []database.Candidate {
	out := make([]database.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Distance <= threshold {
			out = append(out, c)
		}
	}
	return out
}

// Aggregate filters candidates by threshold, keeps the best similarity per
// subject and returns the top subjects by similarity. When two candidates of
// the same subject share the best similarity the first one seen is kept, and
// subjects with equal similarity keep their first-seen order.
func Aggregate(cands []database.Candidate, opts Options) Result {
	if opts.Threshold < 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}

	diag := Diagnostic{
		CandidatesConsidered: len(cands),
		Threshold:            opts.Threshold,
		RequiredSimilarity:   clampSimilarity(1 - opts.Threshold),
		HasData:              len(cands) > 0,
	}
	for i, c := range cands {
		if sim := c.Similarity(); i == 0 || sim > diag.BestSimilarity {
			diag.BestSimilarity = sim
			diag.BestSubjectID = c.SubjectID
		}
	}

	survivors := Survivors(cands, opts.Threshold)
	diag.CandidatesAboveThreshold = len(survivors)

	bySubject := make(map[string]int, len(survivors))
	matches := make([]Match, 0, len(survivors))
	for _, c := range survivors {
		sim := c.Similarity()
		if i, ok := bySubject[c.SubjectID]; ok {
			matches[i].Samples++
			if sim > matches[i].Similarity {
				matches[i].Similarity = sim
				matches[i].Distance = c.Distance
			}
			continue
		}
		bySubject[c.SubjectID] = len(matches)
		matches = append(matches, Match{
			SubjectID:  c.SubjectID,
			Similarity: sim,
			Distance:   c.Distance,
			Samples:    1,
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})
	if len(matches) > opts.TopN {
		matches = matches[:opts.TopN]
	}

	for i := range matches {
		matches[i].Confidence = ConfidenceBand(matches[i].Similarity)
		matches[i].MatchPercentage = FormatPercentage(matches[i].Similarity)
	}

	return Result{Matches: matches, Diagnostic: diag}
}

// clampSimilarity keeps a similarity within [0, 1].
func clampSimilarity(sim float64) float64 {
	return min(max(sim, 0), 1)
}

// NoMatchMessage explains an empty result using the diagnostic.
func NoMatchMessage(d Diagnostic) string {
	return fmt.Sprintf("No matching subject found (best match was %s, needed %s)",
		FormatPercentage(d.BestSimilarity), FormatPercentage(d.RequiredSimilarity))
}
